package viper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	spf13viper "github.com/spf13/viper"
)

const DefaultEnvPrefix = "NOTIFY"

// Loader reads an optional YAML/JSON file plus NOTIFY_* variables and hands
// the raw values to the core config provider. workers.send.concurrency is
// read from NOTIFY_WORKERS_SEND_CONCURRENCY.
type Loader struct {
	Path      string
	EnvPrefix string
	// Optional makes a missing file a no-op instead of an error.
	Optional bool
	// LookupEnv overrides the environment, mainly for tests.
	LookupEnv func(key string) (string, bool)
}

func NewLoader(path string) *Loader {
	return &Loader{Path: strings.TrimSpace(path), EnvPrefix: DefaultEnvPrefix, Optional: path == ""}
}

func (l *Loader) LoadRaw(_ context.Context) (map[string]any, error) {
	v := spf13viper.New()
	prefix := DefaultEnvPrefix
	if l != nil && strings.TrimSpace(l.EnvPrefix) != "" {
		prefix = strings.TrimSpace(l.EnvPrefix)
	}

	if l != nil && l.Path != "" {
		v.SetConfigFile(l.Path)
		if err := v.ReadInConfig(); err != nil {
			if !l.Optional || !isMissingFile(err) {
				return nil, fmt.Errorf("viper: read %s: %w", l.Path, err)
			}
		}
	}

	schema := core.ConfigSchema()
	for key := range schema {
		envKey := prefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if l != nil && l.LookupEnv != nil {
			if value, ok := l.LookupEnv(envKey); ok {
				v.Set(key, value)
			}
			continue
		}
		if err := v.BindEnv(key, envKey); err != nil {
			return nil, fmt.Errorf("viper: bind %s: %w", envKey, err)
		}
	}

	raw := map[string]any{}
	for key, zero := range schema {
		if !v.IsSet(key) {
			continue
		}
		value, err := typedValue(v, key, zero)
		if err != nil {
			return nil, err
		}
		setPath(raw, key, value)
	}
	return raw, nil
}

func typedValue(v *spf13viper.Viper, key string, zero any) (any, error) {
	switch zero.(type) {
	case int:
		return v.GetInt(key), nil
	case float64:
		return v.GetFloat64(key), nil
	case bool:
		return v.GetBool(key), nil
	case time.Duration:
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			return time.Duration(0), nil
		}
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed, nil
		}
		return nil, fmt.Errorf("viper: %s: invalid duration %q", key, raw)
	default:
		return v.GetString(key), nil
	}
}

func setPath(root map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func isMissingFile(err error) bool {
	var notFound spf13viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

var _ core.RawConfigLoader = (*Loader)(nil)
