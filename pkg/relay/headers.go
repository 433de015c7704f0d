package relay

import (
	"net/http"
	"net/url"
	"strings"
)

// blockedRequestHeaders are never forwarded upstream. Keys are canonical.
var blockedRequestHeaders = map[string]bool{
	"Host":            true,
	"X-Proxy-Url":     true,
	"Referer":         true,
	"Origin":          true,
	"Sec-Gpc":         true,
	"Dnt":             true,
	"Accept-Encoding": true,
	"Content-Length":  true,
	"Connection":      true,
}

// blockedResponseHeaders are dropped from upstream responses.
var blockedResponseHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Content-Encoding":  true,
	"Content-Length":    true,
}

func forwardRequestHeader(name string) bool {
	name = http.CanonicalHeaderKey(name)
	if blockedRequestHeaders[name] {
		return false
	}
	return !strings.HasPrefix(name, "Sec-Fetch-")
}

func forwardResponseHeader(name string) bool {
	name = http.CanonicalHeaderKey(name)
	if blockedResponseHeaders[name] {
		return false
	}
	return !strings.HasPrefix(name, "Access-Control-Allow-")
}

// upstreamHeaders builds the header set sent to target.
func (s *Server) upstreamHeaders(in http.Header, target *url.URL) http.Header {
	out := make(http.Header, len(in)+2)
	for name, values := range in {
		if !forwardRequestHeader(name) {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}

	switch host := strings.ToLower(target.Hostname()); {
	case host == s.cfg.APIHost:
		out.Set("Referer", s.cfg.SiteOrigin+"/")
		out.Set("Origin", s.cfg.SiteOrigin)
	case host == s.cfg.MediaHost:
		out.Set("Referer", s.cfg.SiteOrigin+"/")
	}

	if out.Get("User-Agent") == "" {
		out.Set("User-Agent", DefaultUserAgent)
	}
	return out
}

// copyResponseHeaders copies upstream headers to w, rewriting Location so
// that redirects go through the relay as well.
func (s *Server) copyResponseHeaders(w http.ResponseWriter, upstream http.Header) {
	dst := w.Header()
	for name, values := range upstream {
		if !forwardResponseHeader(name) {
			continue
		}
		if http.CanonicalHeaderKey(name) == "Location" {
			for _, v := range values {
				dst.Add("Location", s.cfg.Path+"?csurl="+url.QueryEscape(v))
			}
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Proxy-URL")
	h.Set("Access-Control-Max-Age", "86400")
}
