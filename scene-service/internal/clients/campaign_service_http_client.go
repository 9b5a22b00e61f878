package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.CampaignServiceClient = (*HTTPCampaignServiceClient)(nil)

// HTTPCampaignServiceClient ходит во внутренние эндпоинты campaign-сервиса
// за членством, владением персонажами и ролями.
type HTTPCampaignServiceClient struct {
	baseURL           string
	httpClient        *http.Client
	logger            *zap.Logger
	interServiceToken string
}

// NewHTTPCampaignServiceClient creates a new HTTP client for the campaign service.
func NewHTTPCampaignServiceClient(baseURL, interServiceToken string, timeout time.Duration, logger *zap.Logger) *HTTPCampaignServiceClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCampaignServiceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		interServiceToken: interServiceToken,
		logger:            logger.Named("HTTPCampaignServiceClient"),
	}
}

// membershipResponse - ответ внутренних membership-эндпоинтов.
type membershipResponse struct {
	Member bool   `json:"member"`
	Owner  bool   `json:"owner"`
	Role   string `json:"role"`
	UserID string `json:"user_id"`
}

func (c *HTTPCampaignServiceClient) IsCharacterOwner(ctx context.Context, campaignID, userID, characterID uuid.UUID) (bool, error) {
	endpoint := fmt.Sprintf("/internal/campaigns/%s/characters/%s/owner?user_id=%s",
		campaignID, characterID, url.QueryEscape(userID.String()))

	var payload membershipResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return false, err
	}
	return payload.Owner, nil
}

func (c *HTTPCampaignServiceClient) IsCampaignMember(ctx context.Context, campaignID, userID uuid.UUID) (bool, error) {
	endpoint := fmt.Sprintf("/internal/campaigns/%s/members/%s", campaignID, userID)

	var payload membershipResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return false, err
	}
	return payload.Member, nil
}

func (c *HTTPCampaignServiceClient) GetMemberRole(ctx context.Context, campaignID, userID uuid.UUID) (string, error) {
	endpoint := fmt.Sprintf("/internal/campaigns/%s/members/%s", campaignID, userID)

	var payload membershipResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}
	if !payload.Member {
		return "", models.ErrForbidden
	}
	return payload.Role, nil
}

func (c *HTTPCampaignServiceClient) GetCampaignOwner(ctx context.Context, campaignID uuid.UUID) (uuid.UUID, error) {
	endpoint := fmt.Sprintf("/internal/campaigns/%s/owner", campaignID)

	var payload membershipResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return uuid.Nil, err
	}
	ownerID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("campaign service returned malformed owner id %q: %w", payload.UserID, err)
	}
	return ownerID, nil
}

// getJSON выполняет GET к внутреннему эндпоинту и декодирует JSON-ответ.
func (c *HTTPCampaignServiceClient) getJSON(ctx context.Context, endpoint string, dst interface{}) error {
	log := c.logger.With(zap.String("endpoint", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		log.Error("Failed to create campaign service request", zap.Error(err))
		return fmt.Errorf("failed to create request for campaign service: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.interServiceToken != "" {
		req.Header.Set("X-Internal-Service-Token", c.interServiceToken)
	} else {
		c.logger.Warn("Inter-service token is not set for campaign service client, API call might fail")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("Failed to execute request to campaign service", zap.Error(err))
		return fmt.Errorf("failed to execute request to campaign service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// продолжаем
	case http.StatusNotFound:
		return models.ErrNotFound
	default:
		log.Error("Campaign service returned non-OK status", zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("campaign service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		log.Error("Failed to decode campaign service response", zap.Error(err))
		return fmt.Errorf("failed to decode campaign service response: %w", err)
	}
	return nil
}
