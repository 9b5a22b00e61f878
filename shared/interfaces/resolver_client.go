package interfaces

import (
	"context"
	"encoding/json"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// ResolveExchangeRequest is the snapshot handed to the narrative resolver: the
// current exchange state plus every pending action of the exchange.
type ResolveExchangeRequest struct {
	SceneID        uuid.UUID              `json:"sceneId"`
	CampaignID     uuid.UUID              `json:"campaignId"`
	ExchangeNumber int                    `json:"exchangeNumber"`
	ExchangeState  json.RawMessage        `json:"exchangeState,omitempty"`
	Actions        []*models.PlayerAction `json:"actions"`
}

// ResolveExchangeResult is what the resolver produced for the exchange.
type ResolveExchangeResult struct {
	Description      string          `json:"description"`
	WorldStateDeltas json.RawMessage `json:"worldStateDeltas,omitempty"`
}

// NarrativeResolverClient calls the external resolver that turns a batch of
// player actions into a narrative outcome. Вызов может занимать десятки
// секунд; дедлайн задаёт переданный контекст.
//
//go:generate mockery --name NarrativeResolverClient --output ./mocks --outpkg mocks --case=underscore
type NarrativeResolverClient interface {
	Resolve(ctx context.Context, req *ResolveExchangeRequest) (*ResolveExchangeResult, error)
}
