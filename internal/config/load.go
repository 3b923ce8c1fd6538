package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SPECPILOT"

// EnvLookup resolves environment variables.
type EnvLookup func(string) (string, bool)

// Overrides are caller supplied values keyed like the YAML file ("llm.model").
type Overrides map[string]any

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	workDir    func() (string, error)
	overrides  Overrides
}

// Option customises Load.
type Option func(*loadOptions)

// WithConfigPath reads path instead of searching the default locations.
// A missing explicit file is an error.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = strings.TrimSpace(path)
	}
}

// WithEnv replaces the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithOverrides applies values with the highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithFileReader replaces os.ReadFile.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		if reader != nil {
			o.readFile = reader
		}
	}
}

// WithHomeDir replaces os.UserHomeDir.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		if resolver != nil {
			o.homeDir = resolver
		}
	}
}

// WithWorkDir replaces os.Getwd for the ./specpilot.yaml lookup.
func WithWorkDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		if resolver != nil {
			o.workDir = resolver
		}
	}
}

// Load resolves the configuration from defaults, the YAML file, SPECPILOT_*
// environment variables and overrides, in increasing precedence.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
		workDir:   os.Getwd,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	v := viper.New()
	v.SetConfigType("yaml")

	defaults := map[string]any{}
	flatten("", reflect.ValueOf(Default()), defaults)
	keys := make([]string, 0, len(defaults))
	for key, value := range defaults {
		v.SetDefault(key, value)
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if err := applyFile(v, &meta, options, keys); err != nil {
		return Config{}, Metadata{}, err
	}
	applyEnv(v, &meta, options, keys)
	for key, value := range options.overrides {
		key = strings.ToLower(strings.TrimSpace(key))
		v.Set(key, value)
		meta.sources[key] = SourceOverride
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg, options)
	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

func applyFile(v *viper.Viper, meta *Metadata, options loadOptions, keys []string) error {
	path, explicit := options.configPath, options.configPath != ""
	candidates := []string{path}
	if !explicit {
		candidates = defaultConfigPaths(options)
	}

	for _, candidate := range candidates {
		data, err := options.readFile(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicit {
				continue
			}
			return fmt.Errorf("read config file %s: %w", candidate, err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("parse config file %s: %w", candidate, err)
		}
		meta.configFile = candidate
		for _, key := range append(keys[:len(keys):len(keys)], "router.checklist") {
			if v.InConfig(key) {
				meta.sources[key] = SourceFile
			}
		}
		return nil
	}
	return nil
}

func defaultConfigPaths(options loadOptions) []string {
	var paths []string
	if wd, err := options.workDir(); err == nil {
		paths = append(paths, filepath.Join(wd, "specpilot.yaml"))
	}
	if home, err := options.homeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".specpilot", "config.yaml"))
	}
	return paths
}

// applyEnv sets every known key from SPECPILOT_<KEY>. The provider key
// falls back to OPENAI_API_KEY.
func applyEnv(v *viper.Viper, meta *Metadata, options loadOptions, keys []string) {
	for _, key := range keys {
		value, ok := options.envLookup(EnvName(key))
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		v.Set(key, strings.TrimSpace(value))
		meta.sources[key] = SourceEnv
	}
	if meta.Source("llm.api_key") == SourceDefault {
		if value, ok := options.envLookup("OPENAI_API_KEY"); ok && strings.TrimSpace(value) != "" {
			v.Set("llm.api_key", strings.TrimSpace(value))
			meta.sources["llm.api_key"] = SourceEnv
		}
	}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func normalize(cfg *Config, options loadOptions) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.LLM.Model = strings.TrimSpace(cfg.LLM.Model)
	cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	cfg.Context.Strategy = strings.ToLower(strings.TrimSpace(cfg.Context.Strategy))
	cfg.Context.Tokenizer = strings.ToLower(strings.TrimSpace(cfg.Context.Tokenizer))
	cfg.Session.Kind = strings.ToLower(strings.TrimSpace(cfg.Session.Kind))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.AccessFormat = strings.ToLower(strings.TrimSpace(cfg.Logging.AccessFormat))

	cfg.Session.Path = expandHome(cfg.Session.Path, options.homeDir)
	cfg.Cache.Snapshot = expandHome(cfg.Cache.Snapshot, options.homeDir)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir, options.homeDir)
	cfg.Prompts = expandHome(cfg.Prompts, options.homeDir)
}

func expandHome(path string, homeDir func() (string, error)) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := homeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// flatten records every leaf of a config struct under its dotted
// mapstructure key. Slices of structs are left to the file layer.
func flatten(prefix string, value reflect.Value, out map[string]any) {
	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := value.Field(i)
		switch {
		case fv.Kind() == reflect.Struct:
			flatten(key, fv, out)
		case fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Struct:
		default:
			out[key] = fv.Interface()
		}
	}
}
