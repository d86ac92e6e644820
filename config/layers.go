package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Source produces one configuration layer as a nested map.
// Sources are applied in the order given to NewManager, later ones winning;
// environment overrides are always applied last.
type Source interface {
	Name() string
	Load(ctx context.Context) (map[string]interface{}, error)
}

// Manager owns the active configuration snapshot. A reload merges every layer,
// decodes and validates the result, and only then swaps the snapshot and
// notifies listeners. A failed reload keeps the previous snapshot.
type Manager struct {
	logger    *zap.Logger
	sources   []Source
	envPrefix string
	lookupEnv func(string) (string, bool)

	reloadMu  sync.Mutex
	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithEnvLookup replaces os.LookupEnv, mainly for tests.
func WithEnvLookup(fn func(string) (string, bool)) ManagerOption {
	return func(m *Manager) { m.lookupEnv = fn }
}

// WithEnvPrefix overrides EnvPrefix.
func WithEnvPrefix(prefix string) ManagerOption {
	return func(m *Manager) { m.envPrefix = prefix }
}

// NewManager creates a Manager over the given layers, lowest priority first.
// The usual order is defaults, file, remote, database.
func NewManager(logger *zap.Logger, sources ...Source) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:    logger.Named("config"),
		sources:   sources,
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// Apply configures the manager; it must be called before the first Reload.
func (m *Manager) Apply(opts ...ManagerOption) *Manager {
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the active snapshot, or nil before the first successful Reload.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers fn to receive every newly validated snapshot.
func (m *Manager) Subscribe(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Reload rebuilds the configuration from all layers.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	layers := make([]map[string]interface{}, 0, len(m.sources))
	for _, src := range m.sources {
		layer, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("load config layer %s: %w", src.Name(), err)
		}
		layers = append(layers, layer)
	}
	merged := Resolve(m.envPrefix, m.lookupEnv, layers...)
	cfg, err := Decode(merged)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.current = cfg
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Run re-applies the layers every interval until ctx is done. Reload errors are
// logged and the previous snapshot stays active.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reload(ctx); err != nil {
				m.logger.Warn("config reload failed", zap.Error(err))
			}
		}
	}
}

// WatchFile triggers a Reload whenever the config file at path changes.
func (m *Manager) WatchFile(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("watch file: path required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch file: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.Reload(ctx); err != nil {
			m.logger.Warn("config reload after file change failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		m.logger.Info("config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()
	return nil
}

// Resolve merges layers in order and then applies PREFIX_SECTION_KEY
// environment overrides for every leaf key known to the merged layers.
// It never mutates its inputs.
func Resolve(prefix string, lookup func(string) (string, bool), layers ...map[string]interface{}) map[string]interface{} {
	merged := map[string]interface{}{}
	for _, layer := range layers {
		merged = Merge(merged, layer)
	}
	if lookup == nil {
		return merged
	}
	env := map[string]interface{}{}
	for _, path := range leafPaths(merged, "") {
		name := strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
		if prefix != "" {
			name = prefix + "_" + name
		}
		if val, ok := lookup(name); ok {
			setPath(env, strings.Split(path, "."), val)
		}
	}
	return Merge(merged, env)
}

// Merge returns a new map holding dst overlaid with src. Nested maps merge
// recursively; any other src value replaces the dst value. Keys are lowercased.
func Merge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[strings.ToLower(k)] = cloneValue(v)
	}
	for k, v := range src {
		k = strings.ToLower(k)
		if sm, ok := asMap(v); ok {
			if dm, ok := asMap(out[k]); ok {
				out[k] = Merge(dm, sm)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Decode turns a merged layer map into a Config via viper's decoder, which
// accepts strings for numbers, booleans, durations and comma separated lists.
func Decode(merged map[string]interface{}) (*Config, error) {
	v := viper.New()
	if err := v.MergeConfigMap(merged); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalizeIDs(&cfg)
	return &cfg, nil
}

// Map keys pass through viper case-insensitively, so adapter ids are
// lowercased everywhere to keep references consistent.
func normalizeIDs(cfg *Config) {
	for i := range cfg.Adapters {
		cfg.Adapters[i].ID = strings.ToLower(strings.TrimSpace(cfg.Adapters[i].ID))
	}
	chains := make(map[string][]string, len(cfg.FallbackChains))
	for k, ids := range cfg.FallbackChains {
		chains[strings.ToLower(k)] = lowerAll(ids)
	}
	cfg.FallbackChains = chains
	cfg.Agents.Classification.Adapter = strings.ToLower(cfg.Agents.Classification.Adapter)
	cfg.Agents.Classification.Fallbacks = lowerAll(cfg.Agents.Classification.Fallbacks)
	cfg.Agents.Decomposition.Adapter = strings.ToLower(cfg.Agents.Decomposition.Adapter)
	cfg.Agents.Decomposition.Fallbacks = lowerAll(cfg.Agents.Decomposition.Fallbacks)
}

func lowerAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func cloneValue(v interface{}) interface{} {
	if m, ok := asMap(v); ok {
		return Merge(nil, m)
	}
	if s, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = cloneValue(s[i])
		}
		return out
	}
	return v
}

func leafPaths(m map[string]interface{}, prefix string) []string {
	var out []string
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := asMap(v); ok {
			out = append(out, leafPaths(sub, path)...)
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func setPath(m map[string]interface{}, parts []string, val interface{}) {
	for i, p := range parts {
		if i == len(parts)-1 {
			m[p] = val
			return
		}
		next, ok := m[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[p] = next
		}
		m = next
	}
}

// expandDotted converts flat "section.key" entries into a nested layer.
// Values that parse as JSON keep their JSON type; anything else stays a string.
func expandDotted(flat map[string]string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, raw := range flat {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		var val interface{} = raw
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			val = parsed
		}
		setPath(out, strings.Split(k, "."), val)
	}
	return out
}

type mapSource struct {
	name   string
	values func() map[string]interface{}
}

func (s mapSource) Name() string { return s.name }

func (s mapSource) Load(context.Context) (map[string]interface{}, error) {
	return s.values(), nil
}

// DefaultsSource serves Defaults().
func DefaultsSource() Source { return mapSource{name: "defaults", values: Defaults} }

// NewMapSource serves a fixed layer.
func NewMapSource(name string, values map[string]interface{}) Source {
	return mapSource{name: name, values: func() map[string]interface{} { return Merge(nil, values) }}
}

// FileSource reads a yaml/json/toml file through viper. With an empty path it
// looks for sherpa.{yaml,json} in ./ and ./config and treats absence as empty.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource { return &FileSource{Path: path} }

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Load(context.Context) (map[string]interface{}, error) {
	v := viper.New()
	if f.Path == "" {
		v.SetConfigName("sherpa")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(f.Path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if f.Path == "" && errors.As(err, &notFound) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return v.AllSettings(), nil
}

// RedisSource reads the remote layer from a Redis hash of dotted keys
// (HSET sherpa:config pipeline.max_retries 5).
type RedisSource struct {
	Client redis.Cmdable
	Key    string
}

func (r *RedisSource) Name() string { return "remote" }

func (r *RedisSource) Load(ctx context.Context) (map[string]interface{}, error) {
	if r.Client == nil || r.Key == "" {
		return map[string]interface{}{}, nil
	}
	flat, err := r.Client.HGetAll(ctx, r.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.Key, err)
	}
	return expandDotted(flat), nil
}

// OverrideLoader is implemented by stores that keep dotted-key overrides.
type OverrideLoader interface {
	LoadConfigOverrides(ctx context.Context) (map[string]string, error)
}

// DatabaseSource reads the database layer from an OverrideLoader.
type DatabaseSource struct {
	Loader OverrideLoader
}

func (d *DatabaseSource) Name() string { return "database" }

func (d *DatabaseSource) Load(ctx context.Context) (map[string]interface{}, error) {
	if d.Loader == nil {
		return map[string]interface{}{}, nil
	}
	flat, err := d.Loader.LoadConfigOverrides(ctx)
	if err != nil {
		return nil, err
	}
	return expandDotted(flat), nil
}
