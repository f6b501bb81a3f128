package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"veltrix/internal/auth"
	"veltrix/internal/errs"
	"veltrix/internal/models"
	"veltrix/internal/service"
)

type StrategyHandler struct {
	Service *service.StrategyService
}

func (h *StrategyHandler) Register(r gin.IRouter) {
	group := r.Group("/strategies")
	group.POST("", h.createStrategy)
	group.GET("", h.listMine)
	group.GET("/:id", h.listByOwner)
	group.DELETE("/:id", h.deleteStrategy)
	group.PATCH("/:id/activate", h.activate)
	group.POST("/:id/versions", h.createVersion)
	group.GET("/:id/versions", h.listVersions)
	group.GET("/:id/history", h.history)
	group.GET("/:id/parameters", h.listParameters)
	group.POST("/:id/parameters", h.addParameter)

	r.DELETE("/parameters/:id", h.removeParameter)
}

type createStrategyRequest struct {
	// UserID is accepted for older clients. It must match the token.
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Body   string `json:"body"`
	// PineScript is the body under its older name; Body wins when both are set.
	PineScript string           `json:"pine_script"`
	Timeframe  string           `json:"timeframe"`
	Duration   string           `json:"duration"`
	MaxAmount  *decimal.Decimal `json:"max_amount"`
}

type activateRequest struct {
	IsActive *bool `json:"is_active"`
}

type addParameterRequest struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
}

// @Summary Create strategy
// @Tags strategies
// @Security BearerAuth
// @Accept json
// @Param body body createStrategyRequest true "strategy"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 403 {object} apiResponse
// @Router /api/v1/strategies [post]
func (h *StrategyHandler) createStrategy(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	owner := auth.Owner(c)
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	if uid := strings.TrimSpace(req.UserID); uid != "" && uid != owner {
		Fail(c, errs.Forbidden("user_id does not match the authenticated user"))
		return
	}
	if req.MaxAmount == nil {
		Fail(c, errs.Validation("max_amount", "max_amount is required"))
		return
	}
	body := req.Body
	if strings.TrimSpace(body) == "" {
		body = req.PineScript
	}
	item, err := h.Service.CreateStrategy(c.Request.Context(), owner, service.CreateStrategyInput{
		Name:      req.Name,
		Body:      body,
		MaxAmount: *req.MaxAmount,
		Timeframe: models.Timeframe(strings.TrimSpace(req.Timeframe)),
		Duration:  models.Duration(strings.TrimSpace(req.Duration)),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary List the caller's strategies, newest first
// @Tags strategies
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies [get]
func (h *StrategyHandler) listMine(c *gin.Context) {
	h.list(c, auth.Owner(c))
}

// @Summary List an owner's strategies, newest first
// @Tags strategies
// @Security BearerAuth
// @Param id path string true "owner id"
// @Success 200 {object} apiResponse
// @Failure 403 {object} apiResponse
// @Router /api/v1/strategies/{id} [get]
func (h *StrategyHandler) listByOwner(c *gin.Context) {
	ownerID := strings.TrimSpace(c.Param("id"))
	if ownerID != auth.Owner(c) {
		Fail(c, errs.Forbidden("cannot list another user's strategies"))
		return
	}
	h.list(c, ownerID)
}

func (h *StrategyHandler) list(c *gin.Context, owner string) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	items, err := h.Service.ListStrategies(c.Request.Context(), owner)
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, items)
}

// @Summary Activate, deactivate or toggle a strategy
// @Description An omitted is_active flips the current state.
// @Tags strategies
// @Security BearerAuth
// @Accept json
// @Param id path string true "strategy id"
// @Param body body activateRequest false "desired state"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/strategies/{id}/activate [patch]
func (h *StrategyHandler) activate(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		badJSON(c, err)
		return
	}
	var req activateRequest
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			badJSON(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	owner := auth.Owner(c)
	id := c.Param("id")
	var item *models.Strategy
	if req.IsActive == nil {
		item, err = h.Service.ToggleActive(ctx, owner, id)
	} else {
		item, err = h.Service.SetActive(ctx, owner, id, *req.IsActive)
	}
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Create the next version of a strategy
// @Tags strategies
// @Security BearerAuth
// @Param id path string true "strategy id"
// @Success 201 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/strategies/{id}/versions [post]
func (h *StrategyHandler) createVersion(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	item, err := h.Service.CreateNewVersion(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary List every version of a strategy
// @Tags strategies
// @Security BearerAuth
// @Param id path string true "strategy id"
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies/{id}/versions [get]
func (h *StrategyHandler) listVersions(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	items, err := h.Service.ListVersions(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, items)
}

// @Summary Lifecycle history of a strategy lineage
// @Tags strategies
// @Security BearerAuth
// @Param id path string true "strategy id"
// @Param limit query int false "max events"
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies/{id}/history [get]
func (h *StrategyHandler) history(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Fail(c, errs.Validation("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	items, err := h.Service.History(c.Request.Context(), auth.Owner(c), c.Param("id"), limit)
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, items)
}

// @Summary Delete a strategy and its parameters
// @Tags strategies
// @Security BearerAuth
// @Param id path string true "strategy id"
// @Success 204
// @Failure 404 {object} apiResponse
// @Router /api/v1/strategies/{id} [delete]
func (h *StrategyHandler) deleteStrategy(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	if err := h.Service.DeleteStrategy(c.Request.Context(), auth.Owner(c), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	NoContent(c)
}

// @Summary List strategy parameters
// @Tags parameters
// @Security BearerAuth
// @Param id path string true "strategy id"
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies/{id}/parameters [get]
func (h *StrategyHandler) listParameters(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	items, err := h.Service.ListParameters(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, items)
}

// @Summary Add a parameter to a strategy
// @Tags parameters
// @Security BearerAuth
// @Accept json
// @Param id path string true "strategy id"
// @Param body body addParameterRequest true "parameter"
// @Success 201 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/strategies/{id}/parameters [post]
func (h *StrategyHandler) addParameter(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	var req addParameterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	item, err := h.Service.AddParameter(c.Request.Context(), auth.Owner(c), c.Param("id"), service.ParameterInput{
		Name:        req.ParamName,
		Value:       req.ParamValue,
		Type:        models.ParamType(strings.TrimSpace(req.ParamType)),
		Description: req.Description,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary Remove a parameter
// @Tags parameters
// @Security BearerAuth
// @Param id path string true "parameter id"
// @Success 204
// @Failure 404 {object} apiResponse
// @Router /api/v1/parameters/{id} [delete]
func (h *StrategyHandler) removeParameter(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	if err := h.Service.RemoveParameter(c.Request.Context(), auth.Owner(c), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	NoContent(c)
}
