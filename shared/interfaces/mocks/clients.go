package mocks

import (
	"context"

	"scene-server/shared/interfaces"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock CampaignServiceClient
type CampaignServiceClient struct {
	mock.Mock
}

func (m *CampaignServiceClient) IsCharacterOwner(ctx context.Context, campaignID, userID, characterID uuid.UUID) (bool, error) {
	args := m.Called(ctx, campaignID, userID, characterID)
	return args.Bool(0), args.Error(1)
}

func (m *CampaignServiceClient) IsCampaignMember(ctx context.Context, campaignID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, campaignID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *CampaignServiceClient) GetMemberRole(ctx context.Context, campaignID, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, campaignID, userID)
	return args.String(0), args.Error(1)
}

func (m *CampaignServiceClient) GetCampaignOwner(ctx context.Context, campaignID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, campaignID)
	id, _ := args.Get(0).(uuid.UUID)
	return id, args.Error(1)
}

// Mock NarrativeResolverClient
type NarrativeResolverClient struct {
	mock.Mock
}

func (m *NarrativeResolverClient) Resolve(ctx context.Context, req *interfaces.ResolveExchangeRequest) (*interfaces.ResolveExchangeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*interfaces.ResolveExchangeResult)
	return res, args.Error(1)
}
