package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnState - опциональный строгий порядок ходов поверх сцены.
// Мутируется только через advance/skip; дедлайны двигает ТОЛЬКО явный вызов,
// никакого принудительного пропуска по истечению времени.
type TurnState struct {
	SceneID           uuid.UUID   `json:"scene_id"`
	ActorUserIDs      []uuid.UUID `json:"actor_user_ids"`      // Фиксированный ростер, порядок значим
	ActorCharacterIDs []uuid.UUID `json:"actor_character_ids"` // Параллелен ActorUserIDs
	CurrentIndex      int         `json:"current_index"`
	TurnStartedAt     time.Time   `json:"turn_started_at"`
	TurnDeadline      time.Time   `json:"turn_deadline"`
	FiredThresholds   []int       `json:"fired_thresholds"` // Секунды-до-дедлайна уже отправленных напоминаний, сбрасывается каждым ходом
	TimeoutSeconds    int         `json:"timeout_seconds"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ActorTurnStatus is the relative position of a roster actor within the current cycle.
type ActorTurnStatus string

const (
	ActorTurnPast    ActorTurnStatus = "past"
	ActorTurnCurrent ActorTurnStatus = "current"
	ActorTurnFuture  ActorTurnStatus = "future"
)

// TurnActorInfo is one roster entry in the read projection.
type TurnActorInfo struct {
	UserID      uuid.UUID       `json:"user_id"`
	CharacterID uuid.UUID       `json:"character_id"`
	Status      ActorTurnStatus `json:"status"`
}

// TurnInfo is the pure read projection returned by getTurnInfo. No side effects.
type TurnInfo struct {
	SceneID            uuid.UUID       `json:"scene_id"`
	CurrentUserID      uuid.UUID       `json:"current_user_id"`
	CurrentCharacterID uuid.UUID       `json:"current_character_id"`
	TurnStartedAt      time.Time       `json:"turn_started_at"`
	TurnDeadline       time.Time       `json:"turn_deadline"`
	Remaining          time.Duration   `json:"remaining_seconds"`
	Actors             []TurnActorInfo `json:"actors"`
}

// CurrentUserID returns the user whose turn it is. The roster is never empty
// for an enabled turn order; callers guard that before use.
func (ts *TurnState) CurrentUserID() uuid.UUID {
	return ts.ActorUserIDs[ts.CurrentIndex]
}

// NextIndex returns the roster index after the current one, wrapping around.
func (ts *TurnState) NextIndex() int {
	return (ts.CurrentIndex + 1) % len(ts.ActorUserIDs)
}

// Remaining returns time left until the deadline, floored at zero.
func (ts *TurnState) Remaining(now time.Time) time.Duration {
	d := ts.TurnDeadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// HasFiredThreshold reports whether the given threshold (seconds before the
// deadline) was already fired for the current turn instance.
func (ts *TurnState) HasFiredThreshold(seconds int) bool {
	for _, s := range ts.FiredThresholds {
		if s == seconds {
			return true
		}
	}
	return false
}

// Project строит read-проекцию ростера относительно текущего хода.
// "past" - акторы, уже ходившие в этом цикле (индексы до текущего),
// "future" - еще не ходившие.
func (ts *TurnState) Project(now time.Time) *TurnInfo {
	actors := make([]TurnActorInfo, len(ts.ActorUserIDs))
	for i, userID := range ts.ActorUserIDs {
		status := ActorTurnFuture
		switch {
		case i == ts.CurrentIndex:
			status = ActorTurnCurrent
		case i < ts.CurrentIndex:
			status = ActorTurnPast
		}
		var charID uuid.UUID
		if i < len(ts.ActorCharacterIDs) {
			charID = ts.ActorCharacterIDs[i]
		}
		actors[i] = TurnActorInfo{UserID: userID, CharacterID: charID, Status: status}
	}

	var currentChar uuid.UUID
	if ts.CurrentIndex < len(ts.ActorCharacterIDs) {
		currentChar = ts.ActorCharacterIDs[ts.CurrentIndex]
	}

	return &TurnInfo{
		SceneID:            ts.SceneID,
		CurrentUserID:      ts.CurrentUserID(),
		CurrentCharacterID: currentChar,
		TurnStartedAt:      ts.TurnStartedAt,
		TurnDeadline:       ts.TurnDeadline,
		Remaining:          ts.Remaining(now),
		Actors:             actors,
	}
}
