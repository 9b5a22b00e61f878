package constants

const (
	WSEventSceneCreated      = "scene_created"
	WSEventActionCreated     = "action_created"
	WSEventSceneResolving    = "scene_resolving"
	WSEventResolved          = "resolved"
	WSEventAutoResolveFailed = "auto-resolve-failed"
	WSEventResolutionFailed  = "resolution-failed"
	WSEventSceneReset        = "scene_reset"
	WSEventSceneCompleted    = "scene_completed"
	WSEventTurnAdvanced      = "turn_advanced"
	WSEventTurnSkipped       = "turn_skipped"
	WSEventTurnReminder      = "turn_reminder"
)
