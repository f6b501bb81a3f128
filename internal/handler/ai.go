package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"veltrix/internal/auth"
	"veltrix/internal/errs"
	"veltrix/internal/models"
	"veltrix/internal/service"
)

// AIHandler answers in the flat {success, ...} shape the strategy builder UI
// reads, not the usual envelope.
type AIHandler struct {
	Service *service.AIService
}

func (h *AIHandler) Register(r gin.IRouter) {
	group := r.Group("/ai")
	group.POST("/generate-strategy", h.generate)
	group.POST("/analyze-market", h.analyze)
	group.POST("/strategies", h.saveDraft)
}

type generateStrategyRequest struct {
	Goal          string           `json:"goal"`
	Timeframe     string           `json:"timeframe"`
	RiskTolerance string           `json:"riskTolerance"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
}

type analyzeMarketRequest struct {
	Symbol string `json:"symbol"`
	Period string `json:"period"`
}

func (r generateStrategyRequest) input() service.DraftInput {
	return service.DraftInput{
		Goal:          r.Goal,
		Timeframe:     models.Timeframe(r.Timeframe),
		RiskTolerance: models.RiskTolerance(r.RiskTolerance),
	}
}

// @Summary Draft a strategy with the configured LLM
// @Tags ai
// @Security BearerAuth
// @Accept json
// @Param body body generateStrategyRequest true "goal"
// @Success 200 {object} map[string]any
// @Failure 429 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/v1/ai/generate-strategy [post]
func (h *AIHandler) generate(c *gin.Context) {
	var req generateStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		aiFail(c, errs.New(errs.KindValidation, errs.WithMessage("malformed JSON body"), errs.WithCause(err)))
		return
	}
	text, err := h.Service.GenerateDraft(c.Request.Context(), auth.Owner(c), req.input())
	if err != nil {
		aiFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategy": text})
}

// @Summary Short market analysis for a symbol
// @Tags ai
// @Security BearerAuth
// @Accept json
// @Param body body analyzeMarketRequest true "symbol"
// @Success 200 {object} map[string]any
// @Router /api/v1/ai/analyze-market [post]
func (h *AIHandler) analyze(c *gin.Context) {
	var req analyzeMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		aiFail(c, errs.New(errs.KindValidation, errs.WithMessage("malformed JSON body"), errs.WithCause(err)))
		return
	}
	out, err := h.Service.AnalyzeMarket(c.Request.Context(), auth.Owner(c), req.Symbol, req.Period)
	if err != nil {
		aiFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysis": out.Analysis,
		"symbol":   out.Symbol,
		"period":   out.Period,
		"cached":   out.Cached,
	})
}

// @Summary Draft a strategy and save it
// @Tags ai
// @Security BearerAuth
// @Accept json
// @Param body body generateStrategyRequest true "goal"
// @Success 201 {object} apiResponse
// @Router /api/v1/ai/strategies [post]
func (h *AIHandler) saveDraft(c *gin.Context) {
	var req generateStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	item, err := h.Service.SaveDraft(c.Request.Context(), auth.Owner(c), req.input(), req.MaxAmount)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

func aiFail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"success": false, "error": errs.Public(err)})
}
