package interfaces

import (
	"context"

	"github.com/google/uuid"
)

// CampaignServiceClient talks to the campaign service for membership and
// ownership checks. The scene service never stores this data itself.
//
//go:generate mockery --name CampaignServiceClient --output ./mocks --outpkg mocks --case=underscore
type CampaignServiceClient interface {
	// IsCharacterOwner reports whether the user owns the character inside the
	// campaign.
	IsCharacterOwner(ctx context.Context, campaignID, userID, characterID uuid.UUID) (bool, error)

	// IsCampaignMember reports whether the user belongs to the campaign.
	IsCampaignMember(ctx context.Context, campaignID, userID uuid.UUID) (bool, error)

	// GetMemberRole returns the role of the user within the campaign
	// (models.RoleGameMaster / models.RolePlayer).
	GetMemberRole(ctx context.Context, campaignID, userID uuid.UUID) (string, error)

	// GetCampaignOwner returns the user id of the campaign owner. Ledgers are
	// provisioned against this id.
	GetCampaignOwner(ctx context.Context, campaignID uuid.UUID) (uuid.UUID, error)
}
