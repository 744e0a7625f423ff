package feed

import (
	"context"
	"io"
	"net/http"
	"time"
	"trade_sim/internal/authz"
	"trade_sim/internal/models"
	"trade_sim/internal/modules/config"
	"trade_sim/pkg/logger"

	"github.com/pkg/errors"
)

// HTTPSource — опрашивает апстрим с HTML-таблицей прогнозов.
// Ретраи с удвоением паузы; после исчерпания бюджета ошибка уходит
// воркеру, который просто пропустит цикл.
type HTTPSource struct {
	cfg     *config.Config
	auth    *authz.Authz
	client  *http.Client
	retries int
}

func NewHTTPSource(cfg *config.Config, auth *authz.Authz) *HTTPSource {
	return &HTTPSource{
		cfg:  cfg,
		auth: auth,
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		retries: cfg.FetchRetries,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, interval string) (*models.Tick, error) {
	url := s.cfg.Endpoint(interval)
	if url == "" {
		return nil, errors.Errorf("no endpoint configured for interval %q", interval)
	}

	body, err := s.fetch(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", url)
	}

	tick, err := ParseTick(body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", url)
	}
	return tick, nil
}

func (s *HTTPSource) fetch(ctx context.Context, url string) ([]byte, error) {
	backoff := time.Second
	var lastErr error

	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			logger.Warn("feed: retry %d for %s after error: %v", attempt, url, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		user, pass := s.auth.Credentials()
		req.SetBasicAuth(user, pass)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		rb, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode/100 != 2 {
			lastErr = errors.Errorf("http %d", resp.StatusCode)
			continue
		}
		return rb, nil
	}

	return nil, lastErr
}
