package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	turnStateFields = `scene_id, actor_user_ids, actor_character_ids, current_index, turn_started_at, turn_deadline, fired_thresholds, timeout_seconds, updated_at`

	insertTurnStateQuery = `
        INSERT INTO turn_states
            (scene_id, actor_user_ids, actor_character_ids, current_index, turn_started_at, turn_deadline, fired_thresholds, timeout_seconds, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, '{}', $7, NOW())
    `
	getTurnStateBySceneIDQuery = `
        SELECT ` + turnStateFields + `
        FROM turn_states
        WHERE scene_id = $1
    `
	// CAS на current_index: проигранная гонка (двойной advance, skip поверх
	// уже сделанного хода) просто не меняет строку.
	advanceTurnQuery = `
        UPDATE turn_states SET
            current_index = $3,
            turn_started_at = $4,
            turn_deadline = $5,
            fired_thresholds = '{}',
            updated_at = NOW()
        WHERE scene_id = $1 AND current_index = $2
    `
	// Guard в WHERE делает заявку порога exactly-once: параллельные проходы
	// свипера не отправят одно напоминание дважды.
	claimThresholdQuery = `
        UPDATE turn_states SET
            fired_thresholds = array_append(fired_thresholds, $3),
            updated_at = NOW()
        WHERE scene_id = $1
          AND current_index = $2
          AND NOT ($3 = ANY(fired_thresholds))
    `
	listDueTurnStatesQuery = `
        SELECT ts.scene_id, ts.actor_user_ids, ts.actor_character_ids, ts.current_index, ts.turn_started_at, ts.turn_deadline, ts.fired_thresholds, ts.timeout_seconds, ts.updated_at
        FROM turn_states ts
        JOIN scenes s ON s.id = ts.scene_id
        WHERE s.status = 'AWAITING_ACTIONS'
          AND ts.timeout_seconds > 0
          AND ts.turn_deadline IS NOT NULL
          AND ts.turn_deadline <= $1
    `
	deleteTurnStateBySceneIDQuery = `DELETE FROM turn_states WHERE scene_id = $1`
)

// Compile-time check
var _ interfaces.TurnStateRepository = (*pgTurnStateRepository)(nil)

// pgTurnStateRepository is the PostgreSQL implementation of TurnStateRepository.
type pgTurnStateRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgTurnStateRepository creates a new repository instance.
func NewPgTurnStateRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.TurnStateRepository {
	return &pgTurnStateRepository{
		db:     db,
		logger: logger.Named("PgTurnStateRepo"),
	}
}

func (r *pgTurnStateRepository) Create(ctx context.Context, querier interfaces.DBTX, state *models.TurnState) error {
	_, err := querier.Exec(ctx, insertTurnStateQuery,
		state.SceneID,
		state.ActorUserIDs,
		state.ActorCharacterIDs,
		state.CurrentIndex,
		state.TurnStartedAt,
		nullableTime(state.TurnDeadline),
		state.TimeoutSeconds,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return models.ErrTurnOrderAlreadyEnabled
		}
		r.logger.Error("Failed to insert turn state", zap.String("sceneID", state.SceneID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при создании трекера ходов: %w", err)
	}
	return nil
}

func (r *pgTurnStateRepository) GetBySceneID(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) (*models.TurnState, error) {
	state, err := scanTurnState(querier.QueryRow(ctx, getTurnStateBySceneIDQuery, sceneID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTurnOrderNotEnabled
		}
		r.logger.Error("Failed to get turn state", zap.String("sceneID", sceneID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при получении трекера ходов: %w", err)
	}
	return state, nil
}

func (r *pgTurnStateRepository) AdvanceTurn(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedIndex, newIndex int, turnStartedAt, deadline time.Time) (bool, error) {
	tag, err := querier.Exec(ctx, advanceTurnQuery,
		sceneID, expectedIndex, newIndex, turnStartedAt, nullableTime(deadline))
	if err != nil {
		r.logger.Error("Failed to advance turn",
			zap.String("sceneID", sceneID.String()),
			zap.Int("expectedIndex", expectedIndex), zap.Error(err))
		return false, fmt.Errorf("ошибка при продвижении хода: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTurnStateRepository) ClaimThreshold(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedIndex, thresholdSeconds int) (bool, error) {
	tag, err := querier.Exec(ctx, claimThresholdQuery, sceneID, expectedIndex, thresholdSeconds)
	if err != nil {
		r.logger.Error("Failed to claim reminder threshold",
			zap.String("sceneID", sceneID.String()),
			zap.Int("thresholdSeconds", thresholdSeconds), zap.Error(err))
		return false, fmt.Errorf("ошибка при заявке порога напоминания: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTurnStateRepository) ListDue(ctx context.Context, querier interfaces.DBTX, now time.Time, horizon time.Duration) ([]*models.TurnState, error) {
	rows, err := querier.Query(ctx, listDueTurnStatesQuery, now.Add(horizon))
	if err != nil {
		r.logger.Error("Failed to list due turn states", zap.Error(err))
		return nil, fmt.Errorf("ошибка при выборке трекеров ходов: %w", err)
	}
	defer rows.Close()

	var states []*models.TurnState
	for rows.Next() {
		state, err := scanTurnState(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при чтении строки трекера: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по трекерам: %w", err)
	}
	return states, nil
}

func (r *pgTurnStateRepository) DeleteBySceneID(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) error {
	if _, err := querier.Exec(ctx, deleteTurnStateBySceneIDQuery, sceneID); err != nil {
		r.logger.Error("Failed to delete turn state", zap.String("sceneID", sceneID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при удалении трекера ходов: %w", err)
	}
	return nil
}

func scanTurnState(row pgx.Row) (*models.TurnState, error) {
	var ts models.TurnState
	var deadline *time.Time
	err := row.Scan(
		&ts.SceneID,
		&ts.ActorUserIDs,
		&ts.ActorCharacterIDs,
		&ts.CurrentIndex,
		&ts.TurnStartedAt,
		&deadline,
		&ts.FiredThresholds,
		&ts.TimeoutSeconds,
		&ts.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if deadline != nil {
		ts.TurnDeadline = *deadline
	}
	return &ts, nil
}

// nullableTime превращает нулевое время в NULL для TIMESTAMPTZ-колонок.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
