package models

import (
	"fmt"
	"net/url"
	"strings"
)

// ProxyConfig is a per-profile network egress override for the browser
// session. URL accepts http, https, socks5 and socks5h schemes with
// optional user:pass credentials; a scheme-less value defaults to http.
type ProxyConfig struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// proxySchemes lists the accepted proxy URL schemes. socks5h (remote DNS)
// is normalized to socks5 - Chromium resolves through the proxy either way.
var proxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// Parse validates and normalizes the proxy URL. Returns the parsed form
// with the scheme defaulted and socks5h rewritten.
func (p *ProxyConfig) Parse() (*url.URL, error) {
	raw := strings.TrimSpace(p.URL)
	if raw == "" {
		return nil, fmt.Errorf("proxy URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if !proxySchemes[u.Scheme] {
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}
	if u.Scheme == "socks5h" {
		u.Scheme = "socks5"
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL has no host")
	}
	return u, nil
}

// Validate checks the URL when the override is enabled. A disabled entry
// may carry any leftover text.
func (p *ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	_, err := p.Parse()
	return err
}

// Server returns the scheme://host:port form Chromium expects for
// --proxy-server, with any credentials stripped.
func (p *ProxyConfig) Server() (string, error) {
	u, err := p.Parse()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// Credentials returns the username/password pair when present. Chromium
// cannot authenticate SOCKS proxies, so credentials are only honored for
// http and https.
func (p *ProxyConfig) Credentials() (username, password string, ok bool) {
	u, err := p.Parse()
	if err != nil || u.User == nil {
		return "", "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}
	username = u.User.Username()
	password, _ = u.User.Password()
	return username, password, username != ""
}
