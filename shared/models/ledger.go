package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType различает списание и возврат в аудите.
type LedgerEntryType string

const (
	LedgerEntryDebit  LedgerEntryType = "debit"
	LedgerEntryCredit LedgerEntryType = "credit"
)

// CampaignLedger держит единый баланс кампании, из которого оплачиваются
// резолюции всех ее сцен. Баланс мутируется только атомарными операциями
// debit/credit репозитория.
type CampaignLedger struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	OwnerUserID uuid.UUID `json:"owner_user_id"` // Billing-responsible актор (владелец кампании)
	Balance     int64     `json:"balance"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LedgerEntry is the auditable before/after record produced by every debit and
// credit. The (attempt_id, entry_type) pair is unique, which makes a refund per
// resolution attempt idempotent at the storage layer.
type LedgerEntry struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	CampaignID    uuid.UUID       `db:"campaign_id" json:"campaign_id"`
	AttemptID     uuid.UUID       `db:"attempt_id" json:"attempt_id"`
	EntryType     LedgerEntryType `db:"entry_type" json:"entry_type"`
	Amount        int64           `db:"amount" json:"amount"`
	BalanceBefore int64           `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64           `db:"balance_after" json:"balance_after"`
	Reason        string          `db:"reason" json:"reason"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
