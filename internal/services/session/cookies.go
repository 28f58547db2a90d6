// -----------------------------------------------------------------------
// Session Cookies - injection into and readback from the browser
// -----------------------------------------------------------------------

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/models"
)

// injectCookies writes the profile's cookies into the browser before
// navigation. Cookies without a domain are scoped to the session host.
func injectCookies(browserCtx context.Context, cookies []*models.SessionCookie, defaultHost string, logger arbor.ILogger) error {
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return models.WrapError(models.ErrorKindNetwork, err, "failed to enable network domain")
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		// Only set expiration if it's in the future; an expired timestamp
		// would make Chrome drop the cookie on arrival.
		var expires *cdp.TimeSinceEpoch
		if at := c.ExpiresAt(); !at.IsZero() && at.After(time.Now()) {
			timestamp := cdp.TimeSinceEpoch(at)
			expires = &timestamp
		}

		// Remove leading dot if present (ChromeDP doesn't like it)
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = defaultHost
		}

		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expires,
		}

		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none", "no_restriction":
			param.SameSite = network.CookieSameSiteNone
		}

		params = append(params, param)
	}

	var injected, failed int
	err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, cookie := range params {
				if err := network.SetCookie(cookie.Name, cookie.Value).
					WithDomain(cookie.Domain).
					WithPath(cookie.Path).
					WithSecure(cookie.Secure).
					WithHTTPOnly(cookie.HTTPOnly).
					WithSameSite(cookie.SameSite).
					WithExpires(cookie.Expires).
					Do(ctx); err != nil {
					failed++
					logger.Warn().
						Err(err).
						Str("cookie_name", cookie.Name).
						Str("domain", cookie.Domain).
						Msg("Failed to inject cookie")
					// Continue with other cookies even if one fails
					continue
				}
				injected++
			}
			return nil
		}),
	)
	if err != nil {
		return models.WrapError(models.ErrorKindNetwork, err, "failed to inject cookies")
	}

	if injected == 0 {
		return models.NewError(models.ErrorKindUnexpectedState, "no cookies could be injected (%d failed)", failed)
	}

	logger.Debug().
		Int("injected", injected).
		Int("failed", failed).
		Str("default_host", defaultHost).
		Msg("Session cookies injected")
	return nil
}

// readCookie fetches a named cookie visible at the given URL. Returns nil
// when the browser holds no such cookie.
func readCookie(browserCtx context.Context, cookieURL, name string) (*network.Cookie, error) {
	var found *network.Cookie
	err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().WithURLs([]string{cookieURL}).Do(ctx)
			if err != nil {
				return err
			}
			for _, cookie := range cookies {
				if cookie.Name == name {
					found = cookie
					return nil
				}
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return found, nil
}

// cookieExpiry converts a CDP cookie expiry (seconds since epoch, -1 or 0
// for session cookies) into a time
func cookieExpiry(cookie *network.Cookie) time.Time {
	if cookie == nil || cookie.Expires <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(cookie.Expires), 0)
}
