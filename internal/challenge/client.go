package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devnight0507/reverse-bot/internal/logger"
)

// ClientConfig configures the solving-service client.
type ClientConfig struct {
	APIURL       string
	APIKey       string
	Timeout      time.Duration // wall clock for one solve attempt
	PollInterval time.Duration
	MaxRetries   int // attempts per Challenge, each one paid
}

// Client talks to an external solving service over its create-task /
// poll-result HTTP protocol. Solve is bounded by the configured timeout,
// the per-challenge retry cap and the shared Budget.
type Client struct {
	cfg    ClientConfig
	budget *Budget
	http   *http.Client
	log    logger.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a solving-service client drawing from the given Budget.
func NewClient(cfg ClientConfig, budget *Budget, log logger.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		cfg:    cfg,
		budget: budget,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log,
		sleep:  sleepCtx,
	}
}

// Solve submits the challenge and polls for the token. Attempts are capped
// and backed off; once the cap or the shared budget is spent the challenge
// is reported unsolvable rather than retried forever.
func (c *Client) Solve(ctx context.Context, ch Challenge) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Backoff between paid attempts, never inline-hammering.
			if err := c.sleep(ctx, time.Duration(attempt)*2*time.Second); err != nil {
				return "", err
			}
		}

		if err := c.budget.Reserve(ctx); err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				return "", fmt.Errorf("%w: %w", ErrUnsolvable, err)
			}
			return "", err
		}

		token, err := c.solveOnce(ctx, ch)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Warn("challenge solve attempt failed",
			logger.Int("attempt", attempt+1),
			logger.String("site_key", ch.SiteKey),
			logger.Error(err))
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrUnsolvable, c.cfg.MaxRetries, lastErr)
}

type serviceResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (c *Client) solveOnce(ctx context.Context, ch Challenge) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	taskID, err := c.createTask(ctx, ch)
	if err != nil {
		return "", err
	}

	for {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return "", fmt.Errorf("%w: %w", ErrSolveTimeout, err)
		}
		token, ready, err := c.pollResult(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %w", ErrSolveTimeout, ctx.Err())
			}
			return "", err
		}
		if ready {
			return token, nil
		}
	}
}

func (c *Client) createTask(ctx context.Context, ch Challenge) (string, error) {
	form := url.Values{
		"key":     {c.cfg.APIKey},
		"method":  {ch.Kind},
		"sitekey": {ch.SiteKey},
		"pageurl": {ch.PageURL},
		"json":    {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.decode(req)
	if err != nil {
		return "", err
	}
	if res.Status != 1 {
		return "", fmt.Errorf("%w: %s", ErrSolveRejected, res.Request)
	}
	return res.Request, nil
}

func (c *Client) pollResult(ctx context.Context, taskID string) (token string, ready bool, err error) {
	q := url.Values{
		"key":    {c.cfg.APIKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.APIURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return "", false, err
	}

	res, err := c.decode(req)
	if err != nil {
		return "", false, err
	}
	switch {
	case res.Status == 1:
		return res.Request, true, nil
	case res.Request == "CAPCHA_NOT_READY":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: %s", ErrSolveRejected, res.Request)
	}
}

func (c *Client) decode(req *http.Request) (*serviceResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solving service returned status %d", resp.StatusCode)
	}
	var out serviceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("malformed solving service response: %w", err)
	}
	return &out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
