package interfaces

import (
	"context"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// LedgerRepository defines storage access for campaign resource ledgers.
//
//go:generate mockery --name LedgerRepository --output ./mocks --outpkg mocks --case=underscore
type LedgerRepository interface {
	// GetByCampaignID returns the ledger, or models.ErrLedgerNotFound.
	GetByCampaignID(ctx context.Context, querier DBTX, campaignID uuid.UUID) (*models.CampaignLedger, error)

	// CreateIfAbsent provisions a ledger with the given starting balance.
	// Повторный вызов для того же похода — no-op.
	CreateIfAbsent(ctx context.Context, querier DBTX, campaignID, ownerUserID uuid.UUID, startingBalance int64) error

	// Debit atomically subtracts amount when the balance covers it and records
	// a debit entry for the attempt. Returns models.ErrInsufficientBalance
	// without changing the balance otherwise.
	Debit(ctx context.Context, querier DBTX, campaignID, attemptID uuid.UUID, amount int64) error

	// Refund credits amount back for the attempt. The credit entry is unique
	// per attempt, so a repeated refund returns models.ErrAlreadyRefunded and
	// leaves the balance untouched.
	Refund(ctx context.Context, querier DBTX, campaignID, attemptID uuid.UUID, amount int64) error

	// Credit adds amount to the balance (admin top-up) and records an entry.
	Credit(ctx context.Context, querier DBTX, campaignID, attemptID uuid.UUID, amount int64) error

	// ListEntries returns the newest entries of the ledger, up to limit.
	ListEntries(ctx context.Context, querier DBTX, campaignID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}
