package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pablof7z/purplewatch/internal/relayutil"
)

type StorageConfig struct {
	Path string `json:"path" env:"PURPLEWATCH_STORAGE_PATH" env-default:"./data"`
}

type CacheConfig struct {
	TTLSeconds      int `json:"ttl_seconds" env:"PURPLEWATCH_CACHE_TTL_SECONDS" env-default:"7776000"`
	RemoteBatchSize int `json:"remote_batch_size" env:"PURPLEWATCH_CACHE_REMOTE_BATCH_SIZE" env-default:"100"`
}

type DirectoryConfig struct {
	TTLSeconds int `json:"ttl_seconds" env:"PURPLEWATCH_DIRECTORY_TTL_SECONDS" env-default:"7776000"`
}

type WatchlistConfig struct {
	TTLSeconds int `json:"ttl_seconds" env:"PURPLEWATCH_WATCHLIST_TTL_SECONDS" env-default:"604800"`
}

type AccountConfig struct {
	TTLSeconds int `json:"ttl_seconds" env:"PURPLEWATCH_ACCOUNT_TTL_SECONDS" env-default:"86400"`
	Limit      int `json:"limit" env:"PURPLEWATCH_ACCOUNT_LIMIT" env-default:"100"`
}

type RemoteConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" env:"PURPLEWATCH_REMOTE_TIMEOUT_SECONDS" env-default:"10"`
	Concurrency    int `json:"concurrency" env:"PURPLEWATCH_REMOTE_CONCURRENCY" env-default:"4"`
}

type WebListConfig struct {
	URLTemplate    string `json:"url_template" env:"PURPLEWATCH_WEBLIST_URL_TEMPLATE" env-default:"https://www.theblockbot.com/show-blocks/%s.csv"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"PURPLEWATCH_WEBLIST_TIMEOUT_SECONDS" env-default:"30"`
}

type LogConfig struct {
	Level  string `json:"level" env:"PURPLEWATCH_LOG_LEVEL" env-default:"info"`
	Format string `json:"format" env:"PURPLEWATCH_LOG_FORMAT" env-default:"json"`
}

type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Relays    []string        `json:"relays" env:"PURPLEWATCH_RELAYS" env-default:"wss://purplepag.es,wss://relay.damus.io,wss://nos.lol"`
	Cache     CacheConfig     `json:"cache"`
	Directory DirectoryConfig `json:"directory"`
	Watchlist WatchlistConfig `json:"watchlist"`
	Account   AccountConfig   `json:"account"`
	Remote    RemoteConfig    `json:"remote"`
	WebList   WebListConfig   `json:"weblist"`
	Log       LogConfig       `json:"log"`
}

// Load reads a JSON config file, letting environment variables override it.
// An empty path loads from the environment and defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate normalizes relay URLs and checks ranges.
func (c *Config) Validate() error {
	var errs []error

	relays := make([]string, 0, len(c.Relays))
	seen := make(map[string]struct{}, len(c.Relays))
	for _, raw := range c.Relays {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		url, err := relayutil.NormalizeRelayURL(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("relay %q: %w", raw, err))
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		relays = append(relays, url)
	}
	c.Relays = relays
	if len(relays) == 0 {
		errs = append(errs, errors.New("at least one relay is required"))
	}

	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"cache.ttl_seconds", c.Cache.TTLSeconds},
		{"cache.remote_batch_size", c.Cache.RemoteBatchSize},
		{"directory.ttl_seconds", c.Directory.TTLSeconds},
		{"watchlist.ttl_seconds", c.Watchlist.TTLSeconds},
		{"account.ttl_seconds", c.Account.TTLSeconds},
		{"account.limit", c.Account.Limit},
		{"remote.timeout_seconds", c.Remote.TimeoutSeconds},
		{"remote.concurrency", c.Remote.Concurrency},
		{"weblist.timeout_seconds", c.WebList.TimeoutSeconds},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.value))
		}
	}
	if !strings.Contains(c.WebList.URLTemplate, "%s") {
		errs = append(errs, errors.New("weblist.url_template must contain %s"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c CacheConfig) TTL() time.Duration     { return seconds(c.TTLSeconds) }
func (c DirectoryConfig) TTL() time.Duration { return seconds(c.TTLSeconds) }
func (c WatchlistConfig) TTL() time.Duration { return seconds(c.TTLSeconds) }
func (c AccountConfig) TTL() time.Duration   { return seconds(c.TTLSeconds) }
func (c RemoteConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}
func (c WebListConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}
