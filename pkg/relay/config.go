// Package relay is the CORS relay in front of the SensCritique API and media
// host. Browsers and the CLI POST to it with the real target in X-Proxy-URL
// (or a csurl parameter); it forwards the request with the headers the
// upstream expects and returns the response with permissive CORS headers.
package relay

import (
	"fmt"
	"strings"
	"time"
)

// DefaultUserAgent is sent upstream when the caller supplies none.
const DefaultUserAgent = "Mozilla/5.0 (compatible; SensBoxd-Relay/1.0)"

// Config holds the relay configuration.
type Config struct {
	// Path is the relay endpoint, e.g. "/proxy".
	Path string

	// AllowedHosts lists the upstream host names requests may target.
	AllowedHosts []string

	// APIHost receives Referer and Origin of SiteOrigin and JSON responses.
	APIHost string

	// MediaHost receives the Referer of SiteOrigin.
	MediaHost string

	// SiteOrigin is the public site, without trailing slash.
	SiteOrigin string

	// Timeout bounds one upstream round trip.
	Timeout time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Path:         "/proxy",
		AllowedHosts: []string{"apollo.senscritique.com", "media.senscritique.com"},
		APIHost:      "apollo.senscritique.com",
		MediaHost:    "media.senscritique.com",
		SiteOrigin:   "https://www.senscritique.com",
		Timeout:      30 * time.Second,
	}
}

func (c *Config) validate() error {
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("relay path must start with /, got %q", c.Path)
	}
	if len(c.AllowedHosts) == 0 {
		return fmt.Errorf("at least one allowed host is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.SiteOrigin = strings.TrimRight(c.SiteOrigin, "/")
	return nil
}
