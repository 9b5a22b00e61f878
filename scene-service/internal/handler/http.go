package handler

import (
	"errors"
	"net/http"
	"strconv"

	"scene-server/scene-service/internal/service"
	"scene-server/shared/authutils"
	sharedMiddleware "scene-server/shared/middleware"
	"scene-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SceneHandler обрабатывает HTTP-запросы к scene-service.
type SceneHandler struct {
	sceneService      service.SceneService
	turnService       service.TurnService
	logger            *zap.Logger
	userTokenVerifier *authutils.JWTVerifier
}

// NewSceneHandler создает новый экземпляр SceneHandler.
func NewSceneHandler(
	sceneService service.SceneService,
	turnService service.TurnService,
	logger *zap.Logger,
	jwtSecret string,
) *SceneHandler {
	userVerifier, err := authutils.NewJWTVerifier(jwtSecret, logger.Named("UserTokenVerifier"))
	if err != nil {
		logger.Fatal("Failed to create user token verifier", zap.Error(err))
	}
	return &SceneHandler{
		sceneService:      sceneService,
		turnService:       turnService,
		logger:            logger.Named("SceneHandler"),
		userTokenVerifier: userVerifier,
	}
}

// RegisterRoutes настраивает маршруты сервиса.
func (h *SceneHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := sharedMiddleware.GinAuthMiddleware(h.userTokenVerifier.VerifyToken, h.logger)

	campaigns := r.Group("/campaigns/:campaign_id", auth)
	{
		campaigns.POST("/scenes", h.createScene)
		campaigns.GET("/scenes", h.listActiveScenes)
		campaigns.GET("/ledger", h.getLedger)
		campaigns.GET("/ledger/entries", h.listLedgerEntries)
		campaigns.POST("/ledger/top-up", h.topUpLedger)
		campaigns.GET("/settings", h.getSettings)
		campaigns.PUT("/settings", h.updateSettings)
	}

	scenes := r.Group("/scenes/:scene_id", auth)
	{
		scenes.GET("", h.getScene)
		scenes.POST("/actions", h.submitAction)
		scenes.POST("/end", h.endScene)
		scenes.POST("/force-complete", h.forceCompleteExchange)
		scenes.POST("/reset", h.resetStuckScene)
		scenes.GET("/turn", h.getTurnInfo)
		scenes.POST("/turn/enable", h.enableTurnOrder)
		scenes.POST("/turn/advance", h.advanceTurn)
		scenes.POST("/turn/skip", h.skipTurn)
	}
}

// --- Scene lifecycle ---

func (h *SceneHandler) createScene(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	var req createSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	scene, err := h.sceneService.CreateScene(c.Request.Context(), campaignID, userID, req.Open)
	if err != nil {
		h.respondError(c, err, "CreateScene")
		return
	}
	c.JSON(http.StatusCreated, scene)
}

func (h *SceneHandler) listActiveScenes(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	scenes, err := h.sceneService.GetActiveScenes(c.Request.Context(), campaignID, userID)
	if err != nil {
		h.respondError(c, err, "GetActiveScenes")
		return
	}
	c.JSON(http.StatusOK, scenes)
}

func (h *SceneHandler) getScene(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	scene, err := h.sceneService.GetScene(c.Request.Context(), sceneID, userID)
	if err != nil {
		h.respondError(c, err, "GetScene")
		return
	}
	c.JSON(http.StatusOK, scene)
}

func (h *SceneHandler) submitAction(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	var req submitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	characterID, err := uuid.Parse(req.CharacterID)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid character_id format"})
		return
	}

	scene, err := h.sceneService.SubmitAction(c.Request.Context(), sceneID, characterID, userID, req.ActionText)
	if err != nil {
		h.respondError(c, err, "SubmitAction")
		return
	}
	c.JSON(http.StatusAccepted, scene)
}

func (h *SceneHandler) endScene(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	if err := h.sceneService.EndScene(c.Request.Context(), sceneID, userID); err != nil {
		h.respondError(c, err, "EndScene")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SceneHandler) forceCompleteExchange(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	if err := h.sceneService.ForceCompleteExchange(c.Request.Context(), sceneID, userID); err != nil {
		h.respondError(c, err, "ForceCompleteExchange")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "resolution started"})
}

func (h *SceneHandler) resetStuckScene(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	if err := h.sceneService.ResetStuckScene(c.Request.Context(), sceneID, userID); err != nil {
		h.respondError(c, err, "ResetStuckScene")
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Turn order ---

func (h *SceneHandler) getTurnInfo(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	info, err := h.turnService.GetTurnInfo(c.Request.Context(), sceneID, userID)
	if err != nil {
		h.respondError(c, err, "GetTurnInfo")
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *SceneHandler) enableTurnOrder(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	var req enableTurnOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	info, err := h.turnService.EnableTurnOrder(c.Request.Context(), sceneID, userID, req.TimeoutSeconds)
	if err != nil {
		h.respondError(c, err, "EnableTurnOrder")
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *SceneHandler) advanceTurn(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	info, err := h.turnService.AdvanceTurn(c.Request.Context(), sceneID, userID)
	if err != nil {
		h.respondError(c, err, "AdvanceTurn")
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *SceneHandler) skipTurn(c *gin.Context) {
	sceneID, userID, ok := h.sceneRequest(c)
	if !ok {
		return
	}
	info, err := h.turnService.SkipTurn(c.Request.Context(), sceneID, userID)
	if err != nil {
		h.respondError(c, err, "SkipTurn")
		return
	}
	c.JSON(http.StatusOK, info)
}

// --- Ledger & settings ---

func (h *SceneHandler) getLedger(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	ledger, err := h.sceneService.GetCampaignLedger(c.Request.Context(), campaignID, userID)
	if err != nil {
		h.respondError(c, err, "GetCampaignLedger")
		return
	}
	c.JSON(http.StatusOK, ledger)
}

func (h *SceneHandler) listLedgerEntries(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, APIError{Message: "Invalid limit parameter"})
			return
		}
		limit = parsed
	}
	entries, err := h.sceneService.ListLedgerEntries(c.Request.Context(), campaignID, userID, limit)
	if err != nil {
		h.respondError(c, err, "ListLedgerEntries")
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *SceneHandler) topUpLedger(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	var req topUpLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	ledger, err := h.sceneService.TopUpLedger(c.Request.Context(), campaignID, userID, req.Amount)
	if err != nil {
		h.respondError(c, err, "TopUpLedger")
		return
	}
	c.JSON(http.StatusOK, ledger)
}

func (h *SceneHandler) getSettings(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	settings, err := h.sceneService.GetSettings(c.Request.Context(), campaignID, userID)
	if err != nil {
		h.respondError(c, err, "GetSettings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *SceneHandler) updateSettings(c *gin.Context) {
	campaignID, userID, ok := h.campaignRequest(c)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	settings := &models.SceneSettings{
		CampaignID:          campaignID,
		ResolutionCost:      req.ResolutionCost,
		CostPerParticipant:  req.CostPerParticipant,
		TurnTimeoutSeconds:  req.TurnTimeoutSeconds,
		ReminderThresholds:  req.ReminderThresholds,
		StartingBalance:     req.StartingBalance,
		MaxSceneParticipant: req.MaxSceneParticipant,
	}
	if err := h.sceneService.UpdateSettings(c.Request.Context(), userID, settings); err != nil {
		h.respondError(c, err, "UpdateSettings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// --- Helpers ---

// campaignRequest извлекает campaign_id из пути и userID из контекста.
func (h *SceneHandler) campaignRequest(c *gin.Context) (campaignID, userID uuid.UUID, ok bool) {
	campaignID, err := uuid.Parse(c.Param("campaign_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid campaign ID format"})
		return uuid.Nil, uuid.Nil, false
	}
	userID, found := sharedMiddleware.GetUserID(c)
	if !found {
		h.logger.Error("UserID missing from context after auth middleware")
		c.JSON(http.StatusInternalServerError, APIError{Message: "Internal server error"})
		return uuid.Nil, uuid.Nil, false
	}
	return campaignID, userID, true
}

// sceneRequest извлекает scene_id из пути и userID из контекста.
func (h *SceneHandler) sceneRequest(c *gin.Context) (sceneID, userID uuid.UUID, ok bool) {
	sceneID, err := uuid.Parse(c.Param("scene_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid scene ID format"})
		return uuid.Nil, uuid.Nil, false
	}
	userID, found := sharedMiddleware.GetUserID(c)
	if !found {
		h.logger.Error("UserID missing from context after auth middleware")
		c.JSON(http.StatusInternalServerError, APIError{Message: "Internal server error"})
		return uuid.Nil, uuid.Nil, false
	}
	return sceneID, userID, true
}

// respondError переводит доменные ошибки в HTTP-статусы.
func (h *SceneHandler) respondError(c *gin.Context, err error, operation string) {
	var status int
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrCharacterNotOwned),
		errors.Is(err, models.ErrNotYourTurn):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrSceneNotFound),
		errors.Is(err, models.ErrLedgerNotFound),
		errors.Is(err, models.ErrTurnOrderNotEnabled),
		errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrSceneNotAcceptingActions),
		errors.Is(err, models.ErrSceneAlreadyClosed),
		errors.Is(err, models.ErrCharacterAlreadyInActiveScene),
		errors.Is(err, models.ErrSceneFull),
		errors.Is(err, models.ErrExchangeInFlight),
		errors.Is(err, models.ErrSceneNotStuck),
		errors.Is(err, models.ErrTurnOrderAlreadyEnabled),
		errors.Is(err, models.ErrNoPendingActions):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Unhandled service error", zap.String("operation", operation), zap.Error(err))
		c.JSON(status, APIError{Message: "Internal server error"})
		return
	}

	h.logger.Debug("Request rejected", zap.String("operation", operation), zap.Int("status", status), zap.Error(err))
	c.JSON(status, APIError{Message: err.Error()})
}
