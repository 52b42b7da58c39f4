package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	queue := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Queue.Addr) != "" {
		queue["addr"] = cfg.Queue.Addr
	}
	if includeZero || strings.TrimSpace(cfg.Queue.Name) != "" {
		queue["name"] = cfg.Queue.Name
	}
	if includeZero || cfg.Queue.Concurrency > 0 {
		queue["concurrency"] = cfg.Queue.Concurrency
	}
	if includeZero || cfg.Queue.ScheduledConcurrency > 0 {
		queue["scheduled_concurrency"] = cfg.Queue.ScheduledConcurrency
	}
	if includeZero || cfg.Queue.MaxAttempts > 0 {
		queue["max_attempts"] = cfg.Queue.MaxAttempts
	}
	if includeZero || cfg.Queue.InitialBackoff > 0 {
		queue["initial_backoff"] = cfg.Queue.InitialBackoff
	}
	if includeZero || cfg.Queue.MaxBackoff > 0 {
		queue["max_backoff"] = cfg.Queue.MaxBackoff
	}
	if includeZero || cfg.Queue.ReadyTimeout > 0 {
		queue["ready_timeout"] = cfg.Queue.ReadyTimeout
	}
	if includeZero || cfg.Queue.DeadLetterRetention > 0 {
		queue["dead_letter_retention"] = cfg.Queue.DeadLetterRetention
	}
	if len(queue) > 0 {
		layer["queue"] = queue
	}

	webhook := map[string]any{}
	if includeZero || cfg.Webhook.Timeout > 0 {
		webhook["timeout"] = cfg.Webhook.Timeout
	}
	if includeZero || cfg.Webhook.DisableThreshold > 0 {
		webhook["disable_threshold"] = cfg.Webhook.DisableThreshold
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	if includeZero || cfg.ShutdownGrace > 0 {
		layer["shutdown_grace"] = cfg.ShutdownGrace
	}
	return layer
}

// ResolveConfig runs the defaults -> loaded -> runtime layering used at
// pipeline construction time.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}
