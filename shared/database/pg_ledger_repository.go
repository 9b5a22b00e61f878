package database

import (
	"context"
	"errors"
	"fmt"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	getLedgerByCampaignIDQuery = `
        SELECT campaign_id, owner_user_id, balance, updated_at
        FROM campaign_ledgers
        WHERE campaign_id = $1
    `
	createLedgerIfAbsentQuery = `
        INSERT INTO campaign_ledgers (campaign_id, owner_user_id, balance, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (campaign_id) DO NOTHING
    `
	// Guard balance >= amount в WHERE: баланс никогда не уходит в минус,
	// параллельные списания сериализуются самой строкой.
	debitLedgerQuery = `
        UPDATE campaign_ledgers SET
            balance = balance - $2,
            updated_at = NOW()
        WHERE campaign_id = $1 AND balance >= $2
        RETURNING balance
    `
	creditLedgerQuery = `
        UPDATE campaign_ledgers SET
            balance = balance + $2,
            updated_at = NOW()
        WHERE campaign_id = $1
        RETURNING balance
    `
	insertLedgerEntryQuery = `
        INSERT INTO ledger_entries
            (id, campaign_id, attempt_id, entry_type, amount, balance_before, balance_after, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
    `
	// Возврат идет под блокировкой строки леджера: проводка и кредит видят
	// один и тот же баланс, параллельное пополнение не искажает
	// balance_before/after.
	lockLedgerQuery = `
        SELECT balance FROM campaign_ledgers WHERE campaign_id = $1 FOR UPDATE
    `
	// Возврат записывается ПЕРЕД изменением баланса: ON CONFLICT по
	// (attempt_id, entry_type) делает повторный refund той же попытки no-op,
	// не трогая баланс.
	insertRefundEntryQuery = `
        INSERT INTO ledger_entries
            (id, campaign_id, attempt_id, entry_type, amount, balance_before, balance_after, reason, created_at)
        VALUES ($1, $2, $3, 'credit', $4, $5, $6, $7, NOW())
        ON CONFLICT (attempt_id, entry_type) DO NOTHING
    `
	listLedgerEntriesQuery = `
        SELECT id, campaign_id, attempt_id, entry_type, amount, balance_before, balance_after, reason, created_at
        FROM ledger_entries
        WHERE campaign_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
)

// Compile-time check
var _ interfaces.LedgerRepository = (*pgLedgerRepository)(nil)

// pgLedgerRepository is the PostgreSQL implementation of LedgerRepository.
// Debit и Refund состоят из двух команд и ДОЛЖНЫ вызываться внутри
// транзакции (querier = pgx.Tx), иначе аудит может разойтись с балансом.
type pgLedgerRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgLedgerRepository creates a new repository instance.
func NewPgLedgerRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.LedgerRepository {
	return &pgLedgerRepository{
		db:     db,
		logger: logger.Named("PgLedgerRepo"),
	}
}

func (r *pgLedgerRepository) GetByCampaignID(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) (*models.CampaignLedger, error) {
	var ledger models.CampaignLedger
	err := querier.QueryRow(ctx, getLedgerByCampaignIDQuery, campaignID).Scan(
		&ledger.CampaignID, &ledger.OwnerUserID, &ledger.Balance, &ledger.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrLedgerNotFound
		}
		r.logger.Error("Failed to get ledger", zap.String("campaignID", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при получении леджера: %w", err)
	}
	return &ledger, nil
}

func (r *pgLedgerRepository) CreateIfAbsent(ctx context.Context, querier interfaces.DBTX, campaignID, ownerUserID uuid.UUID, startingBalance int64) error {
	tag, err := querier.Exec(ctx, createLedgerIfAbsentQuery, campaignID, ownerUserID, startingBalance)
	if err != nil {
		r.logger.Error("Failed to provision ledger", zap.String("campaignID", campaignID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при создании леджера: %w", err)
	}
	if tag.RowsAffected() == 1 {
		r.logger.Info("Campaign ledger provisioned",
			zap.String("campaignID", campaignID.String()),
			zap.Int64("startingBalance", startingBalance))
	}
	return nil
}

func (r *pgLedgerRepository) Debit(ctx context.Context, querier interfaces.DBTX, campaignID, attemptID uuid.UUID, amount int64) error {
	var balanceAfter int64
	err := querier.QueryRow(ctx, debitLedgerQuery, campaignID, amount).Scan(&balanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо леджера нет, либо баланс не покрывает списание.
			if _, getErr := r.GetByCampaignID(ctx, querier, campaignID); getErr != nil {
				return getErr
			}
			return models.ErrInsufficientBalance
		}
		r.logger.Error("Failed to debit ledger",
			zap.String("campaignID", campaignID.String()),
			zap.Int64("amount", amount), zap.Error(err))
		return fmt.Errorf("ошибка при списании с леджера: %w", err)
	}

	_, err = querier.Exec(ctx, insertLedgerEntryQuery,
		uuid.New(), campaignID, attemptID, models.LedgerEntryDebit, amount,
		balanceAfter+amount, balanceAfter, "resolution debit")
	if err != nil {
		r.logger.Error("Failed to record debit entry",
			zap.String("campaignID", campaignID.String()),
			zap.String("attemptID", attemptID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при записи debit-проводки: %w", err)
	}

	r.logger.Info("Ledger debited",
		zap.String("campaignID", campaignID.String()),
		zap.String("attemptID", attemptID.String()),
		zap.Int64("amount", amount),
		zap.Int64("balanceAfter", balanceAfter))
	return nil
}

func (r *pgLedgerRepository) Refund(ctx context.Context, querier interfaces.DBTX, campaignID, attemptID uuid.UUID, amount int64) error {
	var balance int64
	if err := querier.QueryRow(ctx, lockLedgerQuery, campaignID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrLedgerNotFound
		}
		r.logger.Error("Failed to lock ledger row for refund",
			zap.String("campaignID", campaignID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при блокировке леджера для возврата: %w", err)
	}

	tag, err := querier.Exec(ctx, insertRefundEntryQuery,
		uuid.New(), campaignID, attemptID, amount, balance, balance+amount, "resolution refund")
	if err != nil {
		r.logger.Error("Failed to record refund entry",
			zap.String("campaignID", campaignID.String()),
			zap.String("attemptID", attemptID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при записи refund-проводки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlreadyRefunded
	}

	if _, err := querier.Exec(ctx, creditLedgerQuery, campaignID, amount); err != nil {
		r.logger.Error("Failed to credit refund back",
			zap.String("campaignID", campaignID.String()),
			zap.String("attemptID", attemptID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при возврате на леджер: %w", err)
	}

	r.logger.Info("Resolution cost refunded",
		zap.String("campaignID", campaignID.String()),
		zap.String("attemptID", attemptID.String()),
		zap.Int64("amount", amount))
	return nil
}

func (r *pgLedgerRepository) Credit(ctx context.Context, querier interfaces.DBTX, campaignID, attemptID uuid.UUID, amount int64) error {
	var balanceAfter int64
	err := querier.QueryRow(ctx, creditLedgerQuery, campaignID, amount).Scan(&balanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrLedgerNotFound
		}
		r.logger.Error("Failed to credit ledger",
			zap.String("campaignID", campaignID.String()),
			zap.Int64("amount", amount), zap.Error(err))
		return fmt.Errorf("ошибка при пополнении леджера: %w", err)
	}

	_, err = querier.Exec(ctx, insertLedgerEntryQuery,
		uuid.New(), campaignID, attemptID, models.LedgerEntryCredit, amount,
		balanceAfter-amount, balanceAfter, "manual credit")
	if err != nil {
		return fmt.Errorf("ошибка при записи credit-проводки: %w", err)
	}

	r.logger.Info("Ledger credited",
		zap.String("campaignID", campaignID.String()),
		zap.Int64("amount", amount),
		zap.Int64("balanceAfter", balanceAfter))
	return nil
}

func (r *pgLedgerRepository) ListEntries(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*models.LedgerEntry
	if err := pgxscan.Select(ctx, querier, &entries, listLedgerEntriesQuery, campaignID, limit); err != nil {
		r.logger.Error("Failed to list ledger entries", zap.String("campaignID", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при списке проводок: %w", err)
	}
	return entries, nil
}
