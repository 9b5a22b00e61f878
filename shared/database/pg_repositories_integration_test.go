package database_test // Используем _test пакет для изоляции

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"scene-server/scene-service/migrations"
	"scene-server/shared/database"
	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // Драйвер для PostgreSQL
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	// Докер клиент для проверки доступности
	"github.com/docker/docker/client"
)

// RepositoryTestSuite гоняет настоящие SQL-запросы репозиториев против
// контейнерного PostgreSQL: условные UPDATE-ы и guard-ы проверяются только так.
type RepositoryTestSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pgPool      *pgxpool.Pool
	logger      *zap.Logger

	sceneRepo  interfaces.SceneRepository
	actionRepo interfaces.PlayerActionRepository
	turnRepo   interfaces.TurnStateRepository
	ledgerRepo interfaces.LedgerRepository
	settings   interfaces.SettingsRepository
	txRunner   interfaces.TxRunner
}

func (s *RepositoryTestSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err, "Failed to create logger for tests")

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	pgConnStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pgPool, err = pgxpool.New(s.ctx, pgConnStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	require.NoError(s.T(), s.runMigrations(pgConnStr), "Failed to run migrations")

	s.sceneRepo = database.NewPgSceneRepository(s.pgPool, s.logger)
	s.actionRepo = database.NewPgPlayerActionRepository(s.pgPool, s.logger)
	s.turnRepo = database.NewPgTurnStateRepository(s.pgPool, s.logger)
	s.ledgerRepo = database.NewPgLedgerRepository(s.pgPool, s.logger)
	s.settings = database.NewPgSettingsRepository(s.pgPool, s.logger)
	s.txRunner = database.NewPgxTxRunner(s.pgPool, s.logger)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate postgres container", zap.Error(err))
		}
	}
}

func (s *RepositoryTestSuite) SetupTest() {
	// Чистим таблицы между тестами
	_, err := s.pgPool.Exec(s.ctx, "TRUNCATE TABLE scenes, turn_states, player_actions, campaign_ledgers, ledger_entries, scene_settings RESTART IDENTITY CASCADE")
	require.NoError(s.T(), err, "Failed to truncate tables")
}

func (s *RepositoryTestSuite) runMigrations(dbURL string) error {
	sourceDriver, err := iofs.New(migrations.FS, migrations.Path)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance with iofs: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// newScene вставляет сцену с двумя участниками и возвращает ее.
func (s *RepositoryTestSuite) newScene(campaignID uuid.UUID, waiting []uuid.UUID, userIDs, charIDs []uuid.UUID) *models.Scene {
	t := s.T()
	scene := &models.Scene{
		CampaignID:              campaignID,
		SceneNumber:             1,
		Status:                  models.SceneStatusAwaitingActions,
		CurrentExchangeNumber:   1,
		ParticipantCharacterIDs: charIDs,
		ParticipantUserIDs:      userIDs,
		WaitingOnUserIDs:        waiting,
	}
	id, err := s.sceneRepo.Create(s.ctx, s.pgPool, scene)
	require.NoError(t, err)
	scene.ID = id
	return scene
}

// TestResolutionTransitionCAS проверяет эксклюзивность перехода в RESOLVING.
func (s *RepositoryTestSuite) TestResolutionTransitionCAS() {
	t := s.T()
	ctx := s.ctx
	userA, userB := uuid.New(), uuid.New()
	users := []uuid.UUID{userA, userB}
	chars := []uuid.UUID{uuid.New(), uuid.New()}
	scene := s.newScene(uuid.New(), []uuid.UUID{userB}, users, chars)

	// 1. Пока кто-то в ожидании, строгий переход не проходит
	won, err := s.sceneRepo.TryBeginResolution(ctx, s.pgPool, scene.ID, 1, true)
	require.NoError(t, err)
	require.False(t, won, "transition must wait for all participants")

	// 2. Все действовали: переход выигрывается ровно один раз
	require.NoError(t, s.sceneRepo.UpdateParticipantsAndWaiting(ctx, s.pgPool, scene.ID, 1, chars, users, []uuid.UUID{}))
	won, err = s.sceneRepo.TryBeginResolution(ctx, s.pgPool, scene.ID, 1, true)
	require.NoError(t, err)
	require.True(t, won)

	won, err = s.sceneRepo.TryBeginResolution(ctx, s.pgPool, scene.ID, 1, true)
	require.NoError(t, err)
	require.False(t, won, "second transition attempt must lose the race")

	// 3. В RESOLVING запись действий отклоняется
	err = s.sceneRepo.UpdateParticipantsAndWaiting(ctx, s.pgPool, scene.ID, 1, chars, users, []uuid.UUID{userA})
	require.ErrorIs(t, err, models.ErrSceneNotAcceptingActions)

	// 4. Завершение обмена: номер растет, статус и waiting-set восстанавливаются
	newState := json.RawMessage(`{"scene":"after"}`)
	require.NoError(t, s.sceneRepo.CompleteExchange(ctx, s.pgPool, scene.ID, 1, newState, users))

	got, err := s.sceneRepo.GetByID(ctx, s.pgPool, scene.ID)
	require.NoError(t, err)
	require.Equal(t, models.SceneStatusAwaitingActions, got.Status)
	require.Equal(t, 2, got.CurrentExchangeNumber)
	require.JSONEq(t, string(newState), string(got.ExchangeState))
	require.ElementsMatch(t, users, got.WaitingOnUserIDs)

	// 5. Повторное завершение того же обмена - no-op с ошибкой
	require.ErrorIs(t, s.sceneRepo.CompleteExchange(ctx, s.pgPool, scene.ID, 1, newState, users), models.ErrSceneNotFound)
}

// TestRevertAndReset проверяет откат и административный сброс.
func (s *RepositoryTestSuite) TestRevertAndReset() {
	t := s.T()
	ctx := s.ctx
	users := []uuid.UUID{uuid.New()}
	scene := s.newScene(uuid.New(), []uuid.UUID{}, users, []uuid.UUID{uuid.New()})

	// Откат работает только из RESOLVING
	require.ErrorIs(t, s.sceneRepo.RevertToAwaiting(ctx, s.pgPool, scene.ID, 1), models.ErrSceneNotFound)

	won, err := s.sceneRepo.TryBeginResolution(ctx, s.pgPool, scene.ID, 1, false)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, s.sceneRepo.RevertToAwaiting(ctx, s.pgPool, scene.ID, 1))
	got, err := s.sceneRepo.GetByID(ctx, s.pgPool, scene.ID)
	require.NoError(t, err)
	require.Equal(t, models.SceneStatusAwaitingActions, got.Status)
	require.Equal(t, 1, got.CurrentExchangeNumber, "revert must not advance the exchange")

	// Сброс не из RESOLVING отклоняется
	_, err = s.sceneRepo.ResetStuck(ctx, s.pgPool, scene.ID)
	require.ErrorIs(t, err, models.ErrSceneNotStuck)

	won, err = s.sceneRepo.TryBeginResolution(ctx, s.pgPool, scene.ID, 1, false)
	require.NoError(t, err)
	require.True(t, won)

	exchange, err := s.sceneRepo.ResetStuck(ctx, s.pgPool, scene.ID)
	require.NoError(t, err)
	require.Equal(t, 1, exchange)

	got, err = s.sceneRepo.GetByID(ctx, s.pgPool, scene.ID)
	require.NoError(t, err)
	require.Equal(t, models.SceneStatusAwaitingActions, got.Status)
	require.Empty(t, got.WaitingOnUserIDs)
	require.Empty(t, got.ExchangeState)
}

// TestPlayerActionLifecycle проверяет снапшоты pending действий.
func (s *RepositoryTestSuite) TestPlayerActionLifecycle() {
	t := s.T()
	ctx := s.ctx
	userA, userB := uuid.New(), uuid.New()
	scene := s.newScene(uuid.New(), []uuid.UUID{userA, userB}, []uuid.UUID{userA, userB}, []uuid.UUID{uuid.New(), uuid.New()})

	for i, userID := range []uuid.UUID{userA, userA, userB} {
		require.NoError(t, s.actionRepo.Create(ctx, s.pgPool, &models.PlayerAction{
			SceneID:        scene.ID,
			ExchangeNumber: 1,
			CharacterID:    uuid.New(),
			UserID:         userID,
			ActionText:     fmt.Sprintf("Действие %d", i+1),
		}))
	}

	pending, err := s.actionRepo.ListPendingByExchange(ctx, s.pgPool, scene.ID, 1)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// user_id дистинктны независимо от числа действий
	acted, err := s.actionRepo.ListPendingUserIDs(ctx, s.pgPool, scene.ID, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{userA, userB}, acted)

	resolved, err := s.actionRepo.MarkResolved(ctx, s.pgPool, scene.ID, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, resolved)

	pending, err = s.actionRepo.ListPendingByExchange(ctx, s.pgPool, scene.ID, 1)
	require.NoError(t, err)
	require.Empty(t, pending)

	// DeletePending не трогает resolved действия
	deleted, err := s.actionRepo.DeletePending(ctx, s.pgPool, scene.ID, 1)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

// TestLedgerBilling проверяет атомарное списание, возврат и его идемпотентность.
func (s *RepositoryTestSuite) TestLedgerBilling() {
	t := s.T()
	ctx := s.ctx
	campaignID := uuid.New()
	ownerID := uuid.New()

	require.NoError(t, s.ledgerRepo.CreateIfAbsent(ctx, s.pgPool, campaignID, ownerID, 10))
	// Повторное создание - no-op, баланс не перетирается
	require.NoError(t, s.ledgerRepo.CreateIfAbsent(ctx, s.pgPool, campaignID, ownerID, 999))

	ledger, err := s.ledgerRepo.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 10, ledger.Balance)

	attemptID := uuid.New()
	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.ledgerRepo.Debit(ctx, tx, campaignID, attemptID, 7)
	})
	require.NoError(t, err)

	ledger, err = s.ledgerRepo.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 3, ledger.Balance)

	// Баланс не покрывает следующее списание
	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.ledgerRepo.Debit(ctx, tx, campaignID, uuid.New(), 5)
	})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	// Списание с несуществующего леджера
	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.ledgerRepo.Debit(ctx, tx, uuid.New(), uuid.New(), 1)
	})
	require.ErrorIs(t, err, models.ErrLedgerNotFound)

	// Возврат ровно списанного
	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.ledgerRepo.Refund(ctx, tx, campaignID, attemptID, 7)
	})
	require.NoError(t, err)

	ledger, err = s.ledgerRepo.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 10, ledger.Balance)

	// Повторный возврат той же попытки гасится уникальностью (attempt_id, entry_type)
	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.ledgerRepo.Refund(ctx, tx, campaignID, attemptID, 7)
	})
	require.ErrorIs(t, err, models.ErrAlreadyRefunded)

	ledger, err = s.ledgerRepo.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 10, ledger.Balance, "duplicate refund must not change the balance")

	entries, err := s.ledgerRepo.ListEntries(ctx, s.pgPool, campaignID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2) // debit + единственный credit

	// Аудит согласован: проводка возврата считана под блокировкой строки
	byType := map[models.LedgerEntryType]*models.LedgerEntry{}
	for _, e := range entries {
		byType[e.EntryType] = e
	}
	require.EqualValues(t, 10, byType[models.LedgerEntryDebit].BalanceBefore)
	require.EqualValues(t, 3, byType[models.LedgerEntryDebit].BalanceAfter)
	require.EqualValues(t, 3, byType[models.LedgerEntryCredit].BalanceBefore)
	require.EqualValues(t, 10, byType[models.LedgerEntryCredit].BalanceAfter)
}

// TestTurnStateCAS проверяет продвижение хода и заявку порогов напоминаний.
func (s *RepositoryTestSuite) TestTurnStateCAS() {
	t := s.T()
	ctx := s.ctx
	users := []uuid.UUID{uuid.New(), uuid.New()}
	scene := s.newScene(uuid.New(), users, users, []uuid.UUID{uuid.New(), uuid.New()})

	now := time.Now().UTC().Truncate(time.Second)
	deadline := now.Add(30 * time.Second)
	require.NoError(t, s.turnRepo.Create(ctx, s.pgPool, &models.TurnState{
		SceneID:           scene.ID,
		ActorUserIDs:      users,
		ActorCharacterIDs: scene.ParticipantCharacterIDs,
		CurrentIndex:      0,
		TurnStartedAt:     now,
		TurnDeadline:      deadline,
		TimeoutSeconds:    30,
	}))

	// Повторное включение упирается в PK и отдает доменный конфликт
	err := s.turnRepo.Create(ctx, s.pgPool, &models.TurnState{
		SceneID:           scene.ID,
		ActorUserIDs:      users,
		ActorCharacterIDs: scene.ParticipantCharacterIDs,
		TurnStartedAt:     now,
	})
	require.ErrorIs(t, err, models.ErrTurnOrderAlreadyEnabled)

	// Порог отдается ровно один раз
	claimed, err := s.turnRepo.ClaimThreshold(ctx, s.pgPool, scene.ID, 0, 60)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = s.turnRepo.ClaimThreshold(ctx, s.pgPool, scene.ID, 0, 60)
	require.NoError(t, err)
	require.False(t, claimed, "threshold must be claimed exactly once")

	// CAS по current_index: устаревший индекс проигрывает
	moved, err := s.turnRepo.AdvanceTurn(ctx, s.pgPool, scene.ID, 1, 0, now, time.Time{})
	require.NoError(t, err)
	require.False(t, moved)

	moved, err = s.turnRepo.AdvanceTurn(ctx, s.pgPool, scene.ID, 0, 1, now, time.Time{})
	require.NoError(t, err)
	require.True(t, moved)

	state, err := s.turnRepo.GetBySceneID(ctx, s.pgPool, scene.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentIndex)
	require.Empty(t, state.FiredThresholds, "advance must reset fired thresholds")
	require.True(t, state.TurnDeadline.IsZero(), "zero deadline must round-trip as NULL")

	// ListDue видит трекер только в окне дедлайна и только на активной сцене
	moved, err = s.turnRepo.AdvanceTurn(ctx, s.pgPool, scene.ID, 1, 0, now, deadline)
	require.NoError(t, err)
	require.True(t, moved)

	due, err := s.turnRepo.ListDue(ctx, s.pgPool, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)

	due, err = s.turnRepo.ListDue(ctx, s.pgPool, now.Add(-10*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Empty(t, due)

	require.NoError(t, s.turnRepo.DeleteBySceneID(ctx, s.pgPool, scene.ID))
	_, err = s.turnRepo.GetBySceneID(ctx, s.pgPool, scene.ID)
	require.ErrorIs(t, err, models.ErrTurnOrderNotEnabled)
}

// TestSceneSettingsUpsert проверяет хранение настроек похода.
func (s *RepositoryTestSuite) TestSceneSettingsUpsert() {
	t := s.T()
	ctx := s.ctx
	campaignID := uuid.New()

	// Отсутствие строки - значения по умолчанию
	cfg, err := s.settings.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 1, cfg.ResolutionCost)

	cfg.ResolutionCost = 5
	cfg.CostPerParticipant = 2
	cfg.ReminderThresholds = []int{600, 120}
	require.NoError(t, s.settings.Upsert(ctx, s.pgPool, cfg))

	got, err := s.settings.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 5, got.ResolutionCost)
	require.EqualValues(t, 2, got.CostPerParticipant)
	require.Equal(t, []int{600, 120}, got.ReminderThresholds)

	// Повторный Upsert перезаписывает
	got.ResolutionCost = 9
	require.NoError(t, s.settings.Upsert(ctx, s.pgPool, got))
	got, err = s.settings.GetByCampaignID(ctx, s.pgPool, campaignID)
	require.NoError(t, err)
	require.EqualValues(t, 9, got.ResolutionCost)
}

// TestRepositoryTestSuite запускает набор тестов
func TestRepositoryTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Fatalf("Docker client init error: %v. Ensure Docker is running and accessible.", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Fatalf("Docker daemon is not running or accessible: %v", err)
	}
	cli.Close()

	suite.Run(t, new(RepositoryTestSuite))
}
