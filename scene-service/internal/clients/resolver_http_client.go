package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scene-server/shared/interfaces"

	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.NarrativeResolverClient = (*HTTPResolverClient)(nil)

// HTTPResolverClient вызывает внешний нарративный резолвер. Один вызов -
// одна попытка резолюции; ретраев на этом уровне нет, повторная попытка
// означает новое списание и новый attempt_id.
type HTTPResolverClient struct {
	baseURL           string
	httpClient        *http.Client
	logger            *zap.Logger
	interServiceToken string
}

// NewHTTPResolverClient creates a new HTTP client for the narrative resolver.
// timeout задает верхнюю границу одного вызова; пайплайн дополнительно
// ограничивает его контекстом попытки.
func NewHTTPResolverClient(baseURL, interServiceToken string, timeout time.Duration, logger *zap.Logger) *HTTPResolverClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &HTTPResolverClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		interServiceToken: interServiceToken,
		logger:            logger.Named("HTTPResolverClient"),
	}
}

func (c *HTTPResolverClient) Resolve(ctx context.Context, req *interfaces.ResolveExchangeRequest) (*interfaces.ResolveExchangeResult, error) {
	log := c.logger.With(
		zap.String("sceneID", req.SceneID.String()),
		zap.Int("exchangeNumber", req.ExchangeNumber),
		zap.Int("actionCount", len(req.Actions)))
	log.Debug("Sending exchange to narrative resolver")

	jsonData, err := json.Marshal(req)
	if err != nil {
		log.Error("Failed to marshal resolver request body", zap.Error(err))
		return nil, fmt.Errorf("failed to marshal resolver request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/resolve", bytes.NewBuffer(jsonData))
	if err != nil {
		log.Error("Failed to create resolver request", zap.Error(err))
		return nil, fmt.Errorf("failed to create resolver request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.interServiceToken != "" {
		httpReq.Header.Set("X-Internal-Service-Token", c.interServiceToken)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("Failed to execute resolver request", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return nil, fmt.Errorf("failed to execute resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Error("Resolver returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	var result interfaces.ResolveExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Error("Failed to decode resolver response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode resolver response: %w", err)
	}

	log.Info("Exchange resolved by narrative resolver", zap.Duration("elapsed", time.Since(started)))
	return &result, nil
}
