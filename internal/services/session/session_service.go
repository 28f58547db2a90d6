// -----------------------------------------------------------------------
// Last Modified: Tuesday, 23rd June 2026 11:18:27 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/models"
)

// tokenPollInterval is how often the browser is asked for the token
// cookie while the page settles
const tokenPollInterval = 500 * time.Millisecond

// Service exchanges imported session cookies for a bearer token by
// driving a headless browser through the authenticated page. Each
// exchange runs in a fresh browser so profiles never see each other's
// state.
type Service struct {
	config   *common.SessionConfig
	launcher *Launcher
	logger   arbor.ILogger
}

// NewService creates the session service, optionally verifying Chrome
// works before the first exchange.
func NewService(config *common.SessionConfig, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		config:   config,
		launcher: NewLauncher(config, logger),
		logger:   logger,
	}

	if config.StartupCheck {
		if err := s.launcher.Verify(context.Background()); err != nil {
			return nil, fmt.Errorf("browser startup check failed: %w", err)
		}
	}

	return s, nil
}

// ObtainToken runs one full exchange: inject the cookie blob, navigate to
// the target page, wait for the session token cookie to materialize.
// Failures are classified: session_expired when the site bounced to a
// login page, network for transport or timeout trouble, unexpected_state
// when the page loaded but never yielded the token.
func (s *Service) ObtainToken(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error) {
	cookies, err := models.DecodeCredentials(credentials)
	if err != nil {
		return nil, err
	}

	targetURL, err := url.Parse(s.config.TargetURL)
	if err != nil {
		return nil, models.NewValidationError("invalid target URL: %s", s.config.TargetURL)
	}

	browserCtx, cleanup, err := s.launcher.Acquire(ctx, proxy)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := injectCookies(browserCtx, cookies, targetURL.Host, s.logger); err != nil {
		return nil, err
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, s.config.NavTimeout)
	defer cancelNav()

	s.logger.Debug().Str("url", s.config.TargetURL).Msg("Navigating to session page")
	if err := chromedp.Run(navCtx, chromedp.Navigate(s.config.TargetURL)); err != nil {
		return nil, models.WrapError(models.ErrorKindNetwork, err, "navigation to %s failed", s.config.TargetURL)
	}

	token, err := s.waitForToken(ctx, browserCtx)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("cookie", s.config.TokenCookie).
		Str("expires", token.Expires.Format(time.RFC3339)).
		Msg("Session token obtained")
	return token, nil
}

// waitForToken polls the browser for the token cookie until it appears,
// the site redirects to a login page, or the nav budget runs out.
func (s *Service) waitForToken(ctx context.Context, browserCtx context.Context) (*models.SessionToken, error) {
	deadline := time.Now().Add(s.config.NavTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, models.WrapError(models.ErrorKindNetwork, err, "token exchange cancelled")
		}

		var location string
		if err := chromedp.Run(browserCtx, chromedp.Location(&location)); err != nil {
			return nil, models.WrapError(models.ErrorKindNetwork, err, "failed to read page location")
		}
		if isLoginRedirect(location) {
			s.logger.Warn().Str("location", location).Msg("Redirected to login page - session expired")
			return nil, models.NewError(models.ErrorKindSessionExpired,
				"session rejected: redirected to login at %s", location)
		}

		cookie, err := readCookie(browserCtx, s.config.CookieURL, s.config.TokenCookie)
		if err != nil {
			return nil, models.WrapError(models.ErrorKindNetwork, err, "failed to read session cookies")
		}
		if cookie != nil && cookie.Value != "" {
			return &models.SessionToken{
				Value:      cookie.Value,
				Expires:    cookieExpiry(cookie),
				ObtainedAt: time.Now(),
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, models.NewError(models.ErrorKindUnexpectedState,
				"page loaded but token cookie %q never appeared", s.config.TokenCookie)
		}

		select {
		case <-time.After(tokenPollInterval):
		case <-ctx.Done():
			return nil, models.WrapError(models.ErrorKindNetwork, ctx.Err(), "token exchange cancelled")
		}
	}
}

// Close releases launcher resources. Browsers are per-exchange, so there
// is nothing long-lived to tear down beyond logging the shutdown.
func (s *Service) Close() error {
	s.logger.Debug().Msg("Session service closed")
	return nil
}

// isLoginRedirect recognizes the auth provider's login surfaces
func isLoginRedirect(location string) bool {
	loc := strings.ToLower(location)
	if strings.Contains(loc, "accounts.google.") {
		return true
	}
	if strings.Contains(loc, "/signin") || strings.Contains(loc, "servicelogin") {
		return true
	}
	return false
}
