package gamification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	types "github.com/yungbote/questline-backend/internal/domain"
	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	"github.com/yungbote/questline-backend/internal/platform/httpx"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

const awardPath = "/api/internal/xp"

// Client grants XP through the gamification service's internal API.
type Client interface {
	AwardXP(ctx context.Context, award types.XPAward) (*gamedomain.AwardResult, error)
}

type Config struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing gamification base url")
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("missing service key")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &client{
		log:  log.With("client", "GamificationClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// AwardXP is safe to repeat: the award key deduplicates on the server.
func (c *client) AwardXP(ctx context.Context, award types.XPAward) (*gamedomain.AwardResult, error) {
	body, err := json.Marshal(award)
	if err != nil {
		return nil, err
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + awardPath

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryBase
	eb.MaxInterval = 10 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.MaxRetries), ctx)

	for attempt := 1; ; attempt++ {
		out, resp, err := c.awardOnce(ctx, u, body)
		if err == nil {
			return out, nil
		}
		if !httpx.IsRetryableError(err) {
			return nil, err
		}
		next := b.NextBackOff()
		if next == backoff.Stop {
			return nil, fmt.Errorf("award xp after %d attempts: %w", attempt, err)
		}
		sleepFor := httpx.RetryAfterDuration(resp, next, 10*time.Second)
		c.log.Warn("award xp retrying",
			"key", award.Key,
			"attempt", attempt,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		t := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *client) awardOnce(ctx context.Context, u string, body []byte) (*gamedomain.AwardResult, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(httpx.HeaderServiceKey, c.cfg.ServiceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, &httpx.StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	var out gamedomain.AwardResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("award xp decode: %w", err)
	}
	return &out, resp, nil
}
