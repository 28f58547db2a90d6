// -----------------------------------------------------------------------
// Browser Launcher - isolated headless Chrome instances per exchange
// -----------------------------------------------------------------------

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/models"
	"golang.org/x/time/rate"
)

// Launcher starts one fresh browser per token exchange. Profiles carry
// different accounts' cookies, so browser state is never shared or
// reused: each Acquire gets its own allocator and profile-less Chrome,
// torn down by the returned cleanup func.
type Launcher struct {
	config  *common.SessionConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewLauncher creates a launcher with launch spacing taken from config
func NewLauncher(config *common.SessionConfig, logger arbor.ILogger) *Launcher {
	launchRate := config.LaunchRate
	if launchRate <= 0 {
		launchRate = time.Second
	}
	return &Launcher{
		config:  config,
		limiter: rate.NewLimiter(rate.Every(launchRate), 1),
		logger:  logger,
	}
}

// Verify starts a throwaway browser and runs a trivial navigation to
// confirm Chrome is present and usable. Called during startup when
// startup_check is enabled.
func (l *Launcher) Verify(ctx context.Context) error {
	browserCtx, cleanup, err := l.Acquire(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	testCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	var title string
	if err := chromedp.Run(testCtx, chromedp.Title(&title)); err != nil {
		return fmt.Errorf("browser failed responsiveness test: %w", err)
	}

	l.logger.Info().Bool("headless", l.config.Headless).Msg("Browser startup check passed")
	return nil
}

// Acquire launches an isolated browser, optionally routed through a
// proxy. The cleanup func must be called when the exchange is done; it
// tears the instance down with a bounded wait.
func (l *Launcher) Acquire(ctx context.Context, proxy *models.ProxyConfig) (context.Context, func(), error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, nil, models.WrapError(models.ErrorKindNetwork, err, "browser launch cancelled")
	}

	startTime := time.Now()

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("disable-gpu", l.config.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(l.config.UserAgent),
	)

	var proxyUser, proxyPass string
	var proxyAuth bool
	if proxy != nil && proxy.Enabled {
		server, err := proxy.Server()
		if err != nil {
			return nil, nil, models.NewValidationError("invalid proxy config: %s", err.Error())
		}
		opts = append(opts, chromedp.ProxyServer(server))
		proxyUser, proxyPass, proxyAuth = proxy.Credentials()
	}

	// The allocator hangs off Background, not the task context, so a task
	// timeout aborts the exchange without yanking Chrome mid-teardown.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		done := make(chan struct{})
		go func() {
			browserCancel()
			allocCancel()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			l.logger.Warn().Msg("Browser teardown timed out")
		}
	}

	if proxyAuth {
		if err := l.enableProxyAuth(browserCtx, proxyUser, proxyPass); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	l.logger.Debug().
		Dur("launch_time", time.Since(startTime)).
		Bool("proxied", proxy != nil && proxy.Enabled).
		Msg("Browser instance launched")

	return browserCtx, cleanup, nil
}

// enableProxyAuth answers proxy authentication challenges with the
// profile's credentials. Chrome has no flag for proxy credentials; the
// fetch domain intercepts the challenge instead.
func (l *Launcher) enableProxyAuth(browserCtx context.Context, username, password string) error {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(browserCtx)
				execCtx := cdp.WithExecutor(browserCtx, c.Target)

				response := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				if ev.AuthChallenge.Source != fetch.AuthChallengeSourceProxy {
					response = &fetch.AuthChallengeResponse{
						Response: fetch.AuthChallengeResponseResponseDefault,
					}
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, response).Do(execCtx); err != nil {
					l.logger.Debug().Err(err).Msg("Proxy auth continuation failed")
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(browserCtx)
				execCtx := cdp.WithExecutor(browserCtx, c.Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
					l.logger.Debug().Err(err).Msg("Request continuation failed")
				}
			}()
		}
	})

	if err := chromedp.Run(browserCtx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
		return models.WrapError(models.ErrorKindNetwork, err, "failed to enable proxy authentication")
	}
	return nil
}
