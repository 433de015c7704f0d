// Package config loads sensboxd settings from JSON5 files layered over
// built-in defaults.
//
// For a path like "sensboxd.json5" the loader reads sensboxd.json5 and then
// sensboxd.local.json5, the local file taking precedence. Booleans all
// default to false so a layer can only ever switch them on.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/export"
	"github.com/Sternrassler/sensboxd/pkg/fetchloop"
	"github.com/Sternrassler/sensboxd/pkg/logging"
	"github.com/Sternrassler/sensboxd/pkg/relay"
	"github.com/Sternrassler/sensboxd/pkg/universe"
	"github.com/rs/zerolog/log"
	"github.com/titanous/json5"
)

// Config is the complete application configuration.
type Config struct {
	Catalog  Catalog            `json:"catalog"`
	Fetch    Fetch              `json:"fetch"`
	UI       UI                 `json:"ui"`
	Export   Export             `json:"export"`
	Relay    Relay              `json:"relay"`
	Log      Log                `json:"log"`
	Messages fetchloop.Messages `json:"messages"`
}

// Catalog configures the GraphQL client.
type Catalog struct {
	Endpoint      string `json:"endpoint"`
	BaseURL       string `json:"baseUrl"`
	ProxyURL      string `json:"proxyUrl"`
	UserAgent     string `json:"userAgent"`
	Authorization string `json:"authorization"`
	Timeout       string `json:"timeout"`
}

// Fetch configures the fetch loop.
type Fetch struct {
	PageSize  int    `json:"pageSize"`
	PageDelay string `json:"pageDelay"`
	FetchAll  bool   `json:"fetchAll"`
}

// UI configures the store's scroll policy.
type UI struct {
	ScrollThreshold     int  `json:"scrollThreshold"`
	DefaultCategory     int  `json:"defaultCategory"`
	DisableAutoContinue bool `json:"disableAutoContinue"`
}

// Export configures CSV generation.
type Export struct {
	OutputDir   string `json:"outputDir"`
	TimeZone    string `json:"timeZone"`
	Concurrency int    `json:"concurrency"`
	SourceName  string `json:"sourceName"`
}

// Relay configures the CORS relay server.
type Relay struct {
	Addr         string   `json:"addr"`
	Path         string   `json:"path"`
	AllowedHosts []string `json:"allowedHosts"`
	APIHost      string   `json:"apiHost"`
	MediaHost    string   `json:"mediaHost"`
	SiteOrigin   string   `json:"siteOrigin"`
	Timeout      string   `json:"timeout"`
	RedisAddr    string   `json:"redisAddr"`
	RateLimit    int      `json:"rateLimit"`
	RateWindow   string   `json:"rateWindow"`
	MediaCache   bool     `json:"mediaCache"`
	MediaStale   string   `json:"mediaStale"`
}

// Log configures zerolog output.
type Log struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
	File   string `json:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	cat := catalog.DefaultConfig()
	store := collection.DefaultConfig()
	loop := fetchloop.DefaultConfig()

	return Config{
		Catalog: Catalog{
			Endpoint:      cat.Endpoint,
			BaseURL:       cat.BaseURL,
			UserAgent:     cat.UserAgent,
			Authorization: cat.Authorization,
			Timeout:       cat.Timeout.String(),
		},
		Fetch: Fetch{
			PageSize:  loop.PageSize,
			PageDelay: loop.PageDelay.String(),
		},
		UI: UI{
			ScrollThreshold: store.ScrollThreshold,
			DefaultCategory: store.DefaultCategory,
		},
		Export: Export{
			OutputDir:   ".",
			TimeZone:    export.DefaultTimeZone,
			Concurrency: 4,
			SourceName:  export.DefaultSourceName,
		},
		Relay: Relay{
			Addr:         ":8080",
			Path:         "/proxy",
			AllowedHosts: []string{"apollo.senscritique.com", "media.senscritique.com"},
			APIHost:      "apollo.senscritique.com",
			MediaHost:    "media.senscritique.com",
			SiteOrigin:   "https://www.senscritique.com",
			Timeout:      "30s",
			RateWindow:   "1m",
			MediaStale:   "1h",
		},
		Log: Log{
			Level: string(logging.LevelInfo),
		},
		Messages: fetchloop.DefaultMessages(),
	}
}

func splitExt(f string) (string, string) {
	ext := filepath.Ext(f)
	return strings.TrimSuffix(f, ext), strings.TrimPrefix(ext, ".")
}

// Read reads <name> and <name-without-ext>.local.<ext>, merging the local file
// over the first. It returns os.ErrNotExist when neither exists.
func Read[T any](name string) (T, error) {
	var out T
	allNotFound := true

	dirname := filepath.Dir(name)
	prefix, ext := splitExt(filepath.Base(name))

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		if err := json5.Unmarshal(defaultFile, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		allNotFound = false
	}

	localPath := filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefix, ext))
	localFile, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		if err := json5.Unmarshal(localFile, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		log.Debug().Str("local", localPath).Msg("Merging config with local overrides")
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}
	return out, nil
}

// Load layers the files for path over Default and validates the result. An
// empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	fileCfg, err := Read[Config](path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		return cfg, err
	}
	if err := cfg.ApplyOverrides(fileCfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyOverrides merges every non-zero field of o into c.
func (c *Config) ApplyOverrides(o Config) error {
	if err := mergo.Merge(c, o, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}

// Validate checks value ranges and parses durations and the time zone.
func (c Config) Validate() error {
	if c.Catalog.Endpoint == "" {
		return fmt.Errorf("catalog.endpoint is required")
	}
	if _, err := parseDuration("catalog.timeout", c.Catalog.Timeout); err != nil {
		return err
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.pageSize must be positive, got %d", c.Fetch.PageSize)
	}
	if _, err := parseDuration("fetch.pageDelay", c.Fetch.PageDelay); err != nil {
		return err
	}
	if c.UI.ScrollThreshold < 0 {
		return fmt.Errorf("ui.scrollThreshold must not be negative, got %d", c.UI.ScrollThreshold)
	}
	if c.Export.Concurrency <= 0 {
		return fmt.Errorf("export.concurrency must be positive, got %d", c.Export.Concurrency)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := parseDuration("relay.timeout", c.Relay.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("relay.rateWindow", c.Relay.RateWindow); err != nil {
		return err
	}
	if _, err := parseDuration("relay.mediaStale", c.Relay.MediaStale); err != nil {
		return err
	}
	if c.Relay.RateLimit < 0 {
		return fmt.Errorf("relay.rateLimit must not be negative, got %d", c.Relay.RateLimit)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, s)
	}
	return d, nil
}

// Location loads the export time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Export.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("export.timeZone: %w", err)
	}
	return loc, nil
}

// CatalogConfig converts the catalog section. Call Validate first.
func (c Config) CatalogConfig() catalog.Config {
	timeout, _ := parseDuration("catalog.timeout", c.Catalog.Timeout)
	return catalog.Config{
		Endpoint:      c.Catalog.Endpoint,
		BaseURL:       c.Catalog.BaseURL,
		ProxyURL:      c.Catalog.ProxyURL,
		UserAgent:     c.Catalog.UserAgent,
		Authorization: c.Catalog.Authorization,
		Timeout:       timeout,
	}
}

// StoreConfig converts the UI section.
func (c Config) StoreConfig() collection.Config {
	category := c.UI.DefaultCategory
	if category == 0 {
		category = universe.Films
	}
	return collection.Config{
		ScrollThreshold: c.UI.ScrollThreshold,
		DefaultCategory: category,
		AutoContinue:    !c.UI.DisableAutoContinue,
	}
}

// LoopConfig converts the fetch section. Call Validate first.
func (c Config) LoopConfig() fetchloop.Config {
	delay, _ := parseDuration("fetch.pageDelay", c.Fetch.PageDelay)
	return fetchloop.Config{
		PageSize:  c.Fetch.PageSize,
		PageDelay: delay,
	}
}

// RelayConfig converts the relay section. Call Validate first.
func (c Config) RelayConfig() relay.Config {
	timeout, _ := parseDuration("relay.timeout", c.Relay.Timeout)
	return relay.Config{
		Path:         c.Relay.Path,
		AllowedHosts: c.Relay.AllowedHosts,
		APIHost:      c.Relay.APIHost,
		MediaHost:    c.Relay.MediaHost,
		SiteOrigin:   c.Relay.SiteOrigin,
		Timeout:      timeout,
	}
}

// RelayRateWindow returns the parsed relay rate-limit window.
func (c Config) RelayRateWindow() time.Duration {
	d, _ := parseDuration("relay.rateWindow", c.Relay.RateWindow)
	return d
}

// RelayMediaStale returns how long revalidatable media entries outlive expiry.
func (c Config) RelayMediaStale() time.Duration {
	d, _ := parseDuration("relay.mediaStale", c.Relay.MediaStale)
	return d
}

// LoggingConfig converts the log section, writing to output. Call Validate first.
func (c Config) LoggingConfig(output io.Writer) logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:  level,
		Pretty: c.Log.Pretty,
		Output: output,
	}
}
