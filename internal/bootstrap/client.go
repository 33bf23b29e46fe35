// Package bootstrap реализует одноразовую HTTPS загрузку снимка
// состояния реплики с хаба. Снимок мержится через те же идемпотентные
// insert/merge пути, что и deltas, поэтому повторная загрузка безвредна.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/chrysalis/replicant/pkg/api"
)

const (
	// attemptTimeout ограничивает одну попытку загрузки снимка
	attemptTimeout = 10 * time.Second

	// retryBase — базовый интервал экспоненциального backoff
	retryBase = 500 * time.Millisecond

	// maxRetries — количество повторов после первой неудачной попытки
	maxRetries = 4
)

//go:generate moq -out client_mock.go . SnapshotFetcher

// SnapshotFetcher определяет интерфейс для bootstrap клиента
type SnapshotFetcher interface {
	// FetchSnapshot загружает полный снимок состояния агента с хаба
	FetchSnapshot(ctx context.Context, agentID string) (*api.Snapshot, error)
}

// Client представляет HTTPS клиент snapshot endpoint'а хаба
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient создает bootstrap клиент для заданного базового URL хаба.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: attemptTimeout,
		},
	}
}

// FetchSnapshot выполняет GET снимка с экспоненциальным backoff.
// Каждая попытка ограничена по времени; после исчерпания повторов
// возвращается последняя ошибка. Вызывающая сторона решает, фатально
// это или можно продолжать с локальным состоянием.
func (c *Client) FetchSnapshot(ctx context.Context, agentID string) (*api.Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/replica/%s/snapshot", c.baseURL, agentID)

	var snapshot *api.Snapshot

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		snap, err := c.fetchOnce(ctx, url)
		if err != nil {
			c.logger.Warn("snapshot fetch attempt failed", "url", url, "error", err)
			return retry.RetryableError(err)
		}
		snapshot = snap
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}

	c.logger.Info("snapshot fetched",
		"claims", len(snapshot.Claims),
		"polls", len(snapshot.Polls),
		"votes", len(snapshot.Votes),
		"cursor", snapshot.Cursor)

	return snapshot, nil
}

// fetchOnce выполняет одну попытку загрузки снимка
func (c *Client) fetchOnce(ctx context.Context, url string) (*api.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("hub error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	snapshot := &api.Snapshot{}
	if err := json.Unmarshal(body, snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snapshot, nil
}
