package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound      = errors.New("resource not found") // General not found
	ErrSceneNotFound = errors.New("scene not found")

	// Authentication/Authorization Errors
	ErrUnauthorized = errors.New("unauthorized") // Authentication required or failed
	ErrForbidden    = errors.New("forbidden")    // Authenticated, but lacks permission

	// Token Errors
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// Action Submission Errors
	ErrCharacterNotOwned             = errors.New("character is not owned by the caller")
	ErrSceneNotAcceptingActions      = errors.New("scene is not accepting actions")
	ErrCharacterAlreadyInActiveScene = errors.New("character is already a participant of another active scene in this campaign")
	ErrSceneFull                     = errors.New("scene has reached the participant limit")

	// Scene Lifecycle Errors
	ErrSceneNotStuck           = errors.New("scene is not in resolving status, nothing to reset")
	ErrExchangeInFlight        = errors.New("exchange resolution is already in flight")
	ErrNoPendingActions        = errors.New("exchange has no pending actions")
	ErrSceneAlreadyClosed      = errors.New("scene is already completed")
	ErrTurnOrderNotEnabled     = errors.New("turn order is not enabled for this scene")
	ErrTurnOrderAlreadyEnabled = errors.New("turn order is already enabled for this scene")
	ErrNotYourTurn             = errors.New("it is not this actor's turn")

	// Billing Errors
	ErrLedgerNotFound      = errors.New("campaign ledger not found")
	ErrInsufficientBalance = errors.New("insufficient campaign balance")
	ErrAlreadyRefunded     = errors.New("attempt has already been refunded")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
