package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ide3/internal/config"
)

// PreferredModels is the default local model preference, best first.
var PreferredModels = []string{
	"wizardlm2:7b",
	"vicuna:13b",
	"vicuna:7b",
	"codellama:13b",
	"llama2:13b",
	"llama2:7b",
}

// SelectModel returns the first available model whose name contains the base
// name (the part before ':') of a preferred entry, checked in preference
// order. Without a match it returns the first available model.
func SelectModel(available, preferred []string) (string, bool) {
	if len(available) == 0 {
		return "", false
	}
	for _, p := range preferred {
		base, _, _ := strings.Cut(strings.ToLower(p), ":")
		if base == "" {
			continue
		}
		for _, m := range available {
			if strings.Contains(strings.ToLower(m), base) {
				return m, true
			}
		}
	}
	return available[0], true
}

// Initialize picks a provider according to cfg.Mode: local tries Ollama,
// cloud tries the configured cloud backend, hybrid tries Ollama then cloud.
func Initialize(ctx context.Context, cfg *config.Config, opts Options) (Provider, error) {
	opts = opts.withDefaults()

	var order []func(context.Context) (Provider, error)
	local := func(ctx context.Context) (Provider, error) { return detectOllama(ctx, cfg, opts) }
	cloud := func(context.Context) (Provider, error) { return detectCloud(cfg, opts) }
	switch cfg.Mode {
	case config.ModeCloud:
		order = append(order, cloud)
	case config.ModeHybrid:
		order = append(order, local, cloud)
	default:
		order = append(order, local)
	}

	var reasons []error
	for _, try := range order {
		p, err := try(ctx)
		if err == nil {
			opts.Logger.Info("Provider selected", "handle", p.Handle().String())
			return p, nil
		}
		opts.Logger.Warn("Provider unavailable", "error", err)
		reasons = append(reasons, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoProviderAvailable, errors.Join(reasons...))
}

func detectOllama(ctx context.Context, cfg *config.Config, opts Options) (Provider, error) {
	lister := NewOllamaClient(cfg.OllamaHost, "", opts)
	ctx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()

	models, err := lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("ollama at %s has no models installed", lister.host)
	}

	model := ""
	for _, m := range models {
		if cfg.PreferredModel != "" && strings.EqualFold(m, cfg.PreferredModel) {
			model = m
			break
		}
	}
	if model == "" {
		model, _ = SelectModel(models, opts.PreferredModels)
	}
	return NewOllamaClient(cfg.OllamaHost, model, opts), nil
}

func detectCloud(cfg *config.Config, opts Options) (Provider, error) {
	switch cfg.CloudProvider {
	case config.BackendOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("openai: no API key (set openaiApiKey or OPENAI_API_KEY)")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.CloudModelName(), opts), nil
	default:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("anthropic: no API key (set anthropicApiKey or ANTHROPIC_API_KEY)")
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.CloudModelName(), opts), nil
	}
}
