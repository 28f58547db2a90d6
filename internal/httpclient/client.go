package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/renovo/internal/models"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewProxyHTTPClient creates an HTTP client that routes through the given
// proxy. A nil or disabled proxy yields a direct client.
func NewProxyHTTPClient(timeout time.Duration, proxy *models.ProxyConfig) (*http.Client, error) {
	if proxy == nil || !proxy.Enabled {
		return NewDefaultHTTPClient(timeout), nil
	}

	proxyURL, err := proxy.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid proxy config: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// NewSessionClient creates an HTTP client with a cookie jar seeded from an
// exported cookie blob. Returns a configured client ready to make
// authenticated requests to the session host.
func NewSessionClient(blob []byte, baseURL string, proxy *models.ProxyConfig, timeout time.Duration) (*http.Client, error) {
	cookies, err := models.DecodeCredentials(blob)
	if err != nil {
		return nil, err
	}

	client, err := NewProxyHTTPClient(timeout, proxy)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client.Jar = jar

	// Parse base URL for fallback
	parsedBase, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// Group cookies by domain to set them with appropriate URLs
	// This ensures cookie jar accepts cookies based on their declared domain
	cookiesByDomain := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		// If expiration is 0 or in the past, treat as session cookie (no
		// expiration). This prevents the cookie jar from rejecting cookies
		// with zero or stale timestamps.
		expires := c.ExpiresAt()
		if !expires.IsZero() && expires.Before(time.Now().Add(-24*time.Hour)) {
			expires = time.Time{}
		}

		httpCookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}

		// Use cookie's domain, removing leading dot if present
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = parsedBase.Host // Fallback to base URL host
		}

		cookiesByDomain[domain] = append(cookiesByDomain[domain], httpCookie)
	}

	// Set cookies for each domain using a URL that matches that domain
	for domain, domainCookies := range cookiesByDomain {
		domainURL, err := url.Parse(fmt.Sprintf("https://%s/", domain))
		if err != nil {
			continue
		}
		client.Jar.SetCookies(domainURL, domainCookies)
	}

	return client, nil
}
