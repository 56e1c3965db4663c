package validator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chanrelay/work/client"
	"chanrelay/work/types"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// Validator performs header-only liveness checks against upstream links.
type Validator struct {
	client   *client.HeaderSettingClient
	timeout  time.Duration
	rate     int
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

// New creates a Validator. timeout bounds each check; rate is the number of
// checks per second allowed against one upstream host (0 disables pacing).
func New(timeout time.Duration, rate int) *Validator {
	return &Validator{
		client:   client.NewNoRedirectClient(),
		timeout:  timeout,
		rate:     rate,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Validate sends a HEAD request to link with the record headers applied.
// A nil error means the link answered with a status below 400. Redirects are
// reported, not followed, and count as reachable.
func (v *Validator) Validate(ctx context.Context, link string, h types.Headers) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported link scheme %q", u.Scheme)
	}

	v.pace(u.Host)

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := v.client.Do(req, h)
	if err != nil {
		return fmt.Errorf("liveness check failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("liveness check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (v *Validator) pace(host string) {
	if v.rate <= 0 {
		return
	}
	limiter, _ := v.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		return ratelimit.New(v.rate)
	})
	limiter.Take()
}
