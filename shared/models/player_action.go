package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionStatus представляет статус заявленного действия игрока.
type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "pending"
	ActionStatusResolved ActionStatus = "resolved"
)

// PlayerAction is a single submitted action inside a numbered exchange.
// Created by submission, flipped to resolved by the resolution pipeline.
// Pending actions survive ordinary pipeline failures; only an explicit
// administrative reset deletes them.
type PlayerAction struct {
	ID             uuid.UUID    `json:"id"`
	SceneID        uuid.UUID    `json:"scene_id"`
	ExchangeNumber int          `json:"exchange_number"`
	CharacterID    uuid.UUID    `json:"character_id"`
	UserID         uuid.UUID    `json:"user_id"`
	ActionText     string       `json:"action_text"`
	Status         ActionStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
}
