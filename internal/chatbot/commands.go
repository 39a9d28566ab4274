package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"ide3/internal/backend"
	"ide3/internal/config"
	"ide3/internal/session"
)

// historyPreview is how much of each message /history shows.
const historyPreview = 100

// handleCommand handles slash commands. It reports whether the session
// should end.
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		cb.showHelp()
		return false, nil

	case "/config":
		cb.showConfig()
		return false, nil

	case "/mode":
		return false, cb.switchMode(args)

	case "/trust":
		return false, cb.handleTrust(args)

	case "/clear":
		cb.conv.Reset()
		cb.renderer.Success("Conversation cleared")
		return false, nil

	case "/history":
		cb.showHistory()
		return false, nil

	case "/save":
		path := cb.conv.DefaultSaveName()
		if len(args) > 0 {
			path = args[0]
		}
		if err := cb.conv.Save(path); err != nil {
			return false, err
		}
		cb.renderer.Success("Conversation saved to %s", path)
		return false, nil

	case "/load":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /load <filename>")
		}
		if err := cb.conv.Load(args[0]); err != nil {
			return false, err
		}
		cb.renderer.Success("Loaded %d messages from %s", cb.conv.Len()-1, args[0])
		return false, nil

	case "/write":
		return false, cb.toggleWrite(args)

	case "/models":
		return false, cb.listModels(ctx)

	case "/tools":
		cb.listTools()
		return false, nil

	case "/tool":
		return false, cb.callTool(ctx, cmd, args)

	default:
		return false, fmt.Errorf("unknown command: %s (type /help for available commands)", parts[0])
	}
}

func (cb *ChatBot) showHelp() {
	cb.renderer.Info("")
	cb.renderer.Info("IDE3 Commands:")
	for _, row := range [][2]string{
		{"/config", "Show current configuration"},
		{"/mode <type>", "Switch provider mode: local | cloud | hybrid (restart required)"},
		{"/trust", "List trusted directories; /trust untrust stops actions here from the next reply"},
		{"/write [on|off]", "Toggle write mode"},
		{"/clear", "Clear conversation history"},
		{"/history", "Show conversation history"},
		{"/save [file]", "Save conversation (.json, .yaml or .md)"},
		{"/load <file>", "Load conversation (.json or .yaml)"},
		{"/models", "List local models"},
		{"/tools", "List tools from configured tool servers"},
		{"/tool <name> [json]", "Call a tool"},
		{"/help", "Show this help"},
		{"/exit", "Exit IDE3"},
	} {
		cb.renderer.Info("  %-20s %s", row[0], row[1])
	}
	cb.renderer.Info("")
}

func (cb *ChatBot) showConfig() {
	h := cb.provider.Handle()
	write := "off"
	if cb.writeMode {
		write = "on"
	}
	sink := cb.cfg.HistorySink
	if sink == "" {
		sink = "none"
	}

	cb.renderer.Info("")
	cb.renderer.Info("Current Configuration:")
	cb.renderer.Field("Mode:", cb.cfg.Mode)
	cb.renderer.Field("Provider:", h.Backend+" ("+h.Kind+")")
	cb.renderer.Field("Model:", h.Model)
	cb.renderer.Field("Endpoint:", h.Endpoint)
	cb.renderer.Field("Write:", write)
	cb.renderer.Field("History:", sink)
	cb.renderer.Field("Session:", cb.conv.ID)
	if cb.loader != nil {
		if path, err := cb.loader.Path(); err == nil {
			cb.renderer.Field("File:", path)
		}
	}
	cb.renderer.Dim("Switch modes with: /mode local | cloud | hybrid")
	cb.renderer.Info("")
}

// switchMode persists the mode. The active provider is fixed for the
// process, so the change applies on the next start.
func (cb *ChatBot) switchMode(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /mode local | cloud | hybrid")
	}
	mode, err := config.NormalizeMode(args[0])
	if err != nil {
		return err
	}
	if cb.loader == nil {
		return fmt.Errorf("config file is not available")
	}

	if err := cb.loader.SetMode(mode); err != nil {
		return err
	}
	cb.cfg.Mode = mode
	cb.renderer.Success("Mode switched to: %s", mode)
	cb.renderer.Dim("  Restart IDE3 for changes to take effect")
	return nil
}

func (cb *ChatBot) handleTrust(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "", "list":
		dirs := cb.trust.List()
		cb.renderer.Info("")
		cb.renderer.Info("Trusted Directories:")
		if len(dirs) == 0 {
			cb.renderer.Dim("  (none)")
		}
		for _, dir := range dirs {
			cb.renderer.Info("  • %s", dir)
		}
		if sub == "" {
			cb.renderer.Dim("Actions: /trust list | untrust")
		}
		cb.renderer.Info("")
		return nil

	case "untrust":
		dir := cb.dir
		if len(args) > 1 {
			dir = args[1]
		}
		removed, err := cb.trust.Untrust(dir)
		if err != nil {
			return err
		}
		if !removed {
			cb.renderer.Warn("%s was not trusted", dir)
			return nil
		}
		cb.renderer.Success("Removed trust for %s", dir)
		return nil

	default:
		return fmt.Errorf("usage: /trust [list|untrust [dir]]")
	}
}

func (cb *ChatBot) showHistory() {
	msgs := cb.conv.Messages()
	cb.renderer.Info("")
	cb.renderer.Info("Conversation History (%d messages):", len(msgs)-1)
	for _, m := range msgs {
		if m.Role == session.RoleSystem {
			continue
		}
		preview := strings.ReplaceAll(m.Content, "\n", " ")
		if r := []rune(preview); len(r) > historyPreview {
			preview = string(r[:historyPreview]) + "..."
		}
		cb.renderer.Info("  %-10s %s", m.Role+":", preview)
	}
	cb.renderer.Info("")
}

func (cb *ChatBot) toggleWrite(args []string) error {
	switch {
	case len(args) == 0:
		cb.writeMode = !cb.writeMode
	case strings.EqualFold(args[0], "on"):
		cb.writeMode = true
	case strings.EqualFold(args[0], "off"):
		cb.writeMode = false
	default:
		return fmt.Errorf("usage: /write [on|off]")
	}
	if cb.writeMode {
		cb.renderer.Success("Write mode: ON")
	} else {
		cb.renderer.Warn("Write mode: OFF")
	}
	cb.logger.Info("write mode changed", "session_id", cb.conv.ID, "write_mode", cb.writeMode)
	return nil
}

func (cb *ChatBot) listModels(ctx context.Context) error {
	lister, ok := cb.provider.(backend.ModelLister)
	if !ok {
		return fmt.Errorf("%s does not list models", cb.provider.Handle().Backend)
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	current := cb.provider.Handle().Model
	cb.renderer.Info("")
	cb.renderer.Info("Available models:")
	for i, name := range models {
		marker := ""
		if name == current {
			marker = " (current)"
		}
		cb.renderer.Info("%d. %s%s", i+1, name, marker)
	}
	cb.renderer.Info("")
	return nil
}

func (cb *ChatBot) listTools() {
	if cb.tools == nil || cb.tools.Count() == 0 {
		cb.renderer.Dim("No tool servers configured.")
		return
	}
	tools := cb.tools.Tools()
	if len(tools) == 0 {
		cb.renderer.Dim("No tools available.")
		return
	}
	cb.renderer.Info("")
	cb.renderer.Info("Available Tools:")
	for i, tool := range tools {
		cb.renderer.Info("%d. %s (%s)", i+1, tool.Name, tool.ServerName)
		if tool.Description != "" {
			cb.renderer.Dim("   %s", tool.Description)
		}
	}
	cb.renderer.Info("")
	cb.renderer.Dim("Total: %d servers, %d tools", cb.tools.Count(), len(tools))
}

// callTool runs "/tool <name> [json-object]". The JSON is everything after the
// tool name so it may contain spaces.
func (cb *ChatBot) callTool(ctx context.Context, cmd string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /tool <name> [json-args]")
	}
	if cb.tools == nil {
		return fmt.Errorf("no tool servers configured")
	}
	name := args[0]

	var toolArgs map[string]any
	rest := strings.TrimSpace(cmd)
	rest = strings.TrimSpace(rest[strings.IndexFunc(rest, unicode.IsSpace):])
	rest = strings.TrimSpace(strings.TrimPrefix(rest, name))
	if rest != "" {
		if err := json.Unmarshal([]byte(rest), &toolArgs); err != nil {
			return fmt.Errorf("tool arguments must be a JSON object: %w", err)
		}
	}

	cb.renderer.Busy("Calling " + name + "…")
	result, err := cb.tools.Call(ctx, name, toolArgs)
	cb.renderer.Idle()
	if err != nil {
		if isCancel(err) {
			return fmt.Errorf("tool %s cancelled", name)
		}
		return err
	}

	cb.logger.Info("invoked tool", "tool", name, "is_error", result.IsError)
	if result.IsError {
		cb.renderer.Error("%s: %s", name, result.Text())
		return nil
	}
	cb.renderer.Success("%s", name)
	if text := result.Text(); text != "" {
		cb.renderer.Info("%s", text)
	}
	return nil
}
