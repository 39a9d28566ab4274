package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ide3/internal/config"
	"ide3/internal/mcp"
	"ide3/internal/telemetry"
	"ide3/internal/trust"
	"ide3/internal/ui"
)

// app holds what every command sets up before doing its work.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	cwd     string
	in      *bufio.Reader
	closers []func()
}

// setup loads config and starts logging and telemetry. The config is read
// twice: once silently to find the log directory, then with the real logger
// so load warnings land in the log file.
func setup(ctx context.Context, opts *options, s streams) (*app, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	pre := config.NewLoader(opts.configPath, quiet)
	logDir := pre.Load().LogDir
	if logDir == "" {
		logDir = pre.StatePath("logs")
	}

	logger, closeLog, err := telemetry.InitLogger(logDir, opts.debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{logger: logger, closers: []func(){closeLog}}

	a.loader = config.NewLoader(opts.configPath, logger)
	a.cfg = a.loader.Load()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, logDir)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	} else {
		a.tracer, a.meter = tracer, meter
		a.closers = append(a.closers, cleanup)
	}

	if a.cwd, err = os.Getwd(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	// One buffered reader is shared by the trust prompt and the chat loop so
	// lines typed ahead are not lost between them.
	a.in = bufio.NewReader(s.in)

	if opts.debug {
		logger.Info("Debug mode enabled")
	}
	logger.Info("ide3 starting", "version", version, "mode", a.cfg.Mode, "cwd", a.cwd)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// checkTrust prompts for the working directory. A refusal prints a notice
// and reports false.
func (a *app) checkTrust(s streams) (*trust.Gate, bool, error) {
	gate, err := trust.NewGate(trust.NewFileStore(a.loader.TrustPath(), a.logger), a.in, s.out)
	if err != nil {
		return nil, false, err
	}
	ok, err := gate.CheckAndPrompt(a.cwd)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		fmt.Fprintln(s.out, ui.WarnStyle.Render("\nDirectory not trusted. Exiting."))
		a.logger.Info("trust declined", "dir", a.cwd)
		return gate, false, nil
	}
	return gate, true, nil
}

// parseToolServer reads a --tool-server value: [name=]command or [name=]url.
func parseToolServer(value string) config.ToolServer {
	value = strings.TrimSpace(value)
	name, target := "", value
	if i := strings.Index(value, "="); i > 0 && !strings.ContainsAny(value[:i], " /:") {
		name, target = value[:i], strings.TrimSpace(value[i+1:])
	}
	if name == "" {
		name = target
	}
	if strings.Contains(target, "://") {
		return config.ToolServer{Name: name, URL: target}
	}
	return config.ToolServer{Name: name, Command: target}
}

// toolServers merges configured servers with the ones given on the command line.
func (a *app) toolServers(opts *options) []config.ToolServer {
	servers := append([]config.ToolServer(nil), a.cfg.ToolServers...)
	for _, v := range opts.toolServers {
		servers = append(servers, parseToolServer(v))
	}
	return servers
}

// connectTools starts every tool server. Unavailable servers are reported and
// skipped. It returns nil when none are configured.
func (a *app) connectTools(ctx context.Context, opts *options, r *ui.Renderer) *mcp.ClientRegistry {
	servers := a.toolServers(opts)
	if len(servers) == 0 {
		return nil
	}
	r.Busy("Starting tool servers…")
	reg, err := mcp.Connect(ctx, servers, a.cfg.ToolCallTimeout(), a.logger)
	r.Idle()
	if err != nil {
		r.Warn("⚠ %v", err)
	}
	a.onClose(func() {
		if err := reg.Close(); err != nil {
			a.logger.Warn("failed to close tool servers", "error", err)
		}
	})
	return reg
}
