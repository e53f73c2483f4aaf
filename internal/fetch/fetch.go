// Package fetch implements the slave pull-by-tarball protocol spec.md §4.4
// describes. Grounded on internal/subprocess's tar wrapper for the
// streaming extract side and on the teacher's indirect cenkalti/backoff/v4
// dependency (promoted here to direct use) for the retry policy.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/errs"
	"github.com/camptocamp/shared-config-manager/internal/metrics"
	"github.com/camptocamp/shared-config-manager/internal/subprocess"
)

// Client pulls a source's materialized tree from the master as a tarball.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string

	retryNumber int
	retryDelay  time.Duration

	met *metrics.Metrics
	log logr.Logger
}

// New builds a fetch Client against the master's API base URL.
func New(baseURL, secret string, retryNumber int, retryDelay time.Duration, met *metrics.Metrics, log logr.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{},
		baseURL:     baseURL,
		secret:      secret,
		retryNumber: retryNumber,
		retryDelay:  retryDelay,
		met:         met,
		log:         log.WithName("fetch"),
	}
}

// Fetch satisfies engine.Fetcher: delete target_path if present, recreate
// empty, pipe the tarball response into tar extract, retrying with fixed
// backoff per spec.md §4.4.
func (c *Client) Fetch(ctx context.Context, id, targetPath string) error {
	op := func() error {
		return c.fetchOnce(ctx, id, targetPath)
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(max(0, c.retryNumber-1)))
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		c.log.Info("fetch attempt failed, retrying", "source_id", id, "attempt", attempt, "backoff", d, "error", err.Error())
	})
	if err != nil {
		return &errs.FetchError{SourceID: id, Err: err}
	}
	return nil
}

func (c *Client) fetchOnce(ctx context.Context, id, targetPath string) error {
	if err := os.RemoveAll(targetPath); err != nil {
		return fmt.Errorf("clearing target path %s: %w", targetPath, err)
	}
	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return fmt.Errorf("creating target path %s: %w", targetPath, err)
	}

	url := c.baseURL + "/1/tarball/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Scm-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting tarball for %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tarball request for %s: unexpected status %d", id, resp.StatusCode)
	}

	return subprocess.ExtractTarGz(ctx, resp.Body, targetPath)
}
