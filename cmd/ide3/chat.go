package main

import (
	"context"
	"errors"
	"fmt"

	"ide3/internal/action"
	"ide3/internal/backend"
	"ide3/internal/chatbot"
	"ide3/internal/config"
	"ide3/internal/history"
	"ide3/internal/session"
	"ide3/internal/ui"
)

// runChat is the default command: trust check, provider selection, then the
// interactive loop.
func runChat(ctx context.Context, opts *options, s streams) error {
	a, err := setup(ctx, opts, s)
	if err != nil {
		return err
	}
	defer a.Close()

	gate, ok, err := a.checkTrust(s)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	renderer := ui.NewRenderer(s.out, s.interactive())
	renderer.Busy("Detecting providers…")
	provider, err := backend.Initialize(ctx, a.cfg, backend.Options{
		Logger: a.logger,
		Tracer: a.tracer,
		Meter:  a.meter,
	})
	renderer.Idle()
	if err != nil {
		if errors.Is(err, backend.ErrNoProviderAvailable) {
			noProvider(renderer, a.cfg, err)
			return &exitError{code: 1}
		}
		return err
	}

	if a.cfg.HistorySink == config.SinkSQLite && a.cfg.HistoryDB == "" {
		a.cfg.HistoryDB = a.loader.StatePath("history.db")
	}
	sink, err := history.Open(a.cfg, provider.Handle().Backend, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	a.onClose(func() {
		if err := sink.Close(); err != nil {
			a.logger.Warn("failed to close history", "error", err)
		}
	})

	conv, err := resume(ctx, opts.resume, sink)
	if err != nil {
		return err
	}

	executor, err := action.New(action.Options{
		Dir:     a.cwd,
		Timeout: a.cfg.ExecTimeout(),
		Logger:  a.logger,
		Tracer:  a.tracer,
		Meter:   a.meter,
	})
	if err != nil {
		return err
	}

	tools := a.connectTools(ctx, opts, renderer)

	cb, err := chatbot.New(chatbot.Deps{
		Config:       a.cfg,
		Loader:       a.loader,
		Provider:     provider,
		Executor:     executor,
		Trust:        gate,
		History:      sink,
		Tools:        tools,
		Renderer:     renderer,
		Logger:       a.logger,
		Tracer:       a.tracer,
		In:           a.in,
		Dir:          a.cwd,
		Conversation: conv,
		WriteMode:    !opts.noWrite,
	})
	if err != nil {
		return err
	}
	if conv != nil {
		renderer.Success("Resumed session %s (%d messages)", conv.ID, conv.Len()-1)
	}
	return cb.Run(ctx)
}

// resume rebuilds a recorded conversation. Only the SQLite sink can be read
// back. An empty id starts fresh.
func resume(ctx context.Context, id string, sink history.Sink) (*session.Conversation, error) {
	if id == "" {
		return nil, nil
	}
	db, ok := sink.(*history.SQLiteSink)
	if !ok {
		return nil, fmt.Errorf("--resume needs historySink set to %q", config.SinkSQLite)
	}
	if id == "latest" {
		latest, err := db.Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("no session to resume: %w", err)
		}
		id = latest
	}

	msgs, started, err := db.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	conv := session.NewConversation(chatbot.SystemPrompt)
	if err := conv.Replace(msgs); err != nil {
		return nil, fmt.Errorf("session %s cannot be resumed: %w", id, err)
	}
	conv.ID = id
	conv.StartTime = started
	return conv, nil
}

// noProvider explains how to get a model running for the configured mode.
func noProvider(r *ui.Renderer, cfg *config.Config, err error) {
	r.Error("No AI provider available")
	r.Dim("  %v", err)
	r.Info("")
	switch cfg.Mode {
	case config.ModeCloud:
		cloudHint(r, cfg)
	case config.ModeHybrid:
		ollamaHint(r, cfg)
		r.Info("")
		r.Info("Or configure a cloud provider:")
		cloudHint(r, cfg)
	default:
		ollamaHint(r, cfg)
		r.Dim("  Or set \"mode\": \"cloud\" in ~/%s", config.ConfigFile)
	}
}

func ollamaHint(r *ui.Renderer, cfg *config.Config) {
	r.Info("To use local models, install and start Ollama (%s):", cfg.OllamaHost)
	r.Info("  curl https://ollama.ai/install.sh | sh")
	r.Info("  ollama pull vicuna:7b")
	r.Info("  ollama serve")
}

func cloudHint(r *ui.Renderer, cfg *config.Config) {
	if cfg.CloudProvider == config.BackendOpenAI {
		r.Info("  export OPENAI_API_KEY=sk-...")
		return
	}
	r.Info("  export ANTHROPIC_API_KEY=sk-...")
}
