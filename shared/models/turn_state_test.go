package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTurnStateProject(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	chars := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	state := &TurnState{
		SceneID:           uuid.New(),
		ActorUserIDs:      users,
		ActorCharacterIDs: chars,
		CurrentIndex:      1,
		TurnStartedAt:     now.Add(-time.Minute),
		TurnDeadline:      now.Add(2 * time.Minute),
		TimeoutSeconds:    180,
	}

	info := state.Project(now)

	assert.Equal(t, users[1], info.CurrentUserID)
	assert.Equal(t, chars[1], info.CurrentCharacterID)
	assert.Equal(t, 2*time.Minute, info.Remaining)
	if assert.Len(t, info.Actors, 3) {
		assert.Equal(t, ActorTurnPast, info.Actors[0].Status)
		assert.Equal(t, ActorTurnCurrent, info.Actors[1].Status)
		assert.Equal(t, ActorTurnFuture, info.Actors[2].Status)
	}
}

func TestTurnStateNextIndex(t *testing.T) {
	state := &TurnState{ActorUserIDs: []uuid.UUID{uuid.New(), uuid.New()}}

	state.CurrentIndex = 0
	assert.Equal(t, 1, state.NextIndex())

	state.CurrentIndex = 1
	assert.Equal(t, 0, state.NextIndex())
}

func TestTurnStateRemaining(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("Before the deadline", func(t *testing.T) {
		state := &TurnState{TurnDeadline: now.Add(45 * time.Second)}
		assert.Equal(t, 45*time.Second, state.Remaining(now))
	})

	t.Run("Past the deadline is floored at zero", func(t *testing.T) {
		state := &TurnState{TurnDeadline: now.Add(-time.Minute)}
		assert.Equal(t, time.Duration(0), state.Remaining(now))
	})
}

func TestTurnStateHasFiredThreshold(t *testing.T) {
	state := &TurnState{FiredThresholds: []int{900, 300}}

	assert.True(t, state.HasFiredThreshold(300))
	assert.False(t, state.HasFiredThreshold(60))
}
