package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/renovo/internal/httpclient"
	"github.com/ternarybob/renovo/internal/models"
)

// checkTimeout bounds the session probe request
const checkTimeout = 30 * time.Second

// CheckSession probes whether the cookie blob still authenticates,
// without spending a browser launch. It replays the cookies over plain
// HTTP and inspects where the site sends us.
func (s *Service) CheckSession(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionState, error) {
	client, err := httpclient.NewSessionClient(credentials, s.config.CookieURL, proxy, checkTimeout)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.TargetURL, nil)
	if err != nil {
		return nil, models.WrapError(models.ErrorKindInternal, err, "failed to build session probe")
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrorKindNetwork, err, "session probe failed")
	}
	defer resp.Body.Close()

	state := &models.SessionState{
		LoggedIn:  true,
		CheckedAt: time.Now(),
	}

	// Redirect chain landed on a login surface
	finalURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if isLoginRedirect(finalURL) {
		state.LoggedIn = false
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		state.LoggedIn = false
	}

	// The page itself may be a login form served without a redirect
	if state.LoggedIn {
		if doc, parseErr := goquery.NewDocumentFromReader(resp.Body); parseErr == nil {
			if looksLikeLoginPage(doc) {
				state.LoggedIn = false
			}
		}
	}

	state.HasToken = s.jarHasToken(client)

	s.logger.Debug().
		Bool("logged_in", state.LoggedIn).
		Bool("has_token", state.HasToken).
		Str("final_url", finalURL).
		Int("status", resp.StatusCode).
		Msg("Session check complete")
	return state, nil
}

// looksLikeLoginPage inspects a parsed document for sign-in markers
func looksLikeLoginPage(doc *goquery.Document) bool {
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return true
	}
	if doc.Find(`form[action*="signin"], form[action*="login"]`).Length() > 0 {
		return true
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	return strings.Contains(title, "sign in") || strings.Contains(title, "log in")
}

// jarHasToken reports whether the probe's cookie jar ended up holding the
// session token cookie for the configured cookie scope.
func (s *Service) jarHasToken(client *http.Client) bool {
	if client.Jar == nil {
		return false
	}
	cookieURL, err := url.Parse(s.config.CookieURL)
	if err != nil {
		return false
	}
	for _, cookie := range client.Jar.Cookies(cookieURL) {
		if cookie.Name == s.config.TokenCookie && cookie.Value != "" {
			return true
		}
	}
	return false
}
