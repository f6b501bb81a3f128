package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"veltrix/internal/auth"
	"veltrix/internal/errs"
	"veltrix/internal/models"
	"veltrix/internal/service"
)

type BrokerAccountHandler struct {
	Service *service.BrokerAccountService
}

func (h *BrokerAccountHandler) Register(r gin.IRouter) {
	group := r.Group("/broker-accounts")
	group.GET("", h.list)
	group.POST("", h.create)
	group.PATCH("/:id/active", h.setActive)
	group.DELETE("/:id", h.delete)
}

type createBrokerAccountRequest struct {
	BrokerName     string           `json:"broker_name"`
	AccountID      string           `json:"account_id"`
	APIKey         string           `json:"api_key"`
	APISecret      string           `json:"api_secret"`
	IsPaperTrading *bool            `json:"is_paper_trading"`
	Balance        *decimal.Decimal `json:"balance"`
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// @Summary List broker accounts
// @Tags broker-accounts
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/v1/broker-accounts [get]
func (h *BrokerAccountHandler) list(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	items, err := h.Service.List(c.Request.Context(), auth.Owner(c))
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, items)
}

// @Summary Link a broker account
// @Tags broker-accounts
// @Security BearerAuth
// @Accept json
// @Param body body createBrokerAccountRequest true "account"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/broker-accounts [post]
func (h *BrokerAccountHandler) create(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	var req createBrokerAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	in := service.BrokerAccountInput{
		BrokerName:     models.BrokerName(strings.TrimSpace(req.BrokerName)),
		AccountID:      req.AccountID,
		APIKey:         req.APIKey,
		APISecret:      req.APISecret,
		IsPaperTrading: req.IsPaperTrading,
	}
	if req.Balance != nil {
		in.Balance = *req.Balance
	}
	item, err := h.Service.Create(c.Request.Context(), auth.Owner(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary Enable or disable a broker account
// @Tags broker-accounts
// @Security BearerAuth
// @Accept json
// @Param id path string true "account id"
// @Param body body setActiveRequest true "state"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/broker-accounts/{id}/active [patch]
func (h *BrokerAccountHandler) setActive(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	if req.IsActive == nil {
		Fail(c, errs.Validation("is_active", "is_active is required"))
		return
	}
	item, err := h.Service.SetActive(c.Request.Context(), auth.Owner(c), c.Param("id"), *req.IsActive)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Remove a broker account
// @Tags broker-accounts
// @Security BearerAuth
// @Param id path string true "account id"
// @Success 204
// @Router /api/v1/broker-accounts/{id} [delete]
func (h *BrokerAccountHandler) delete(c *gin.Context) {
	if h.Service == nil {
		unavailable(c)
		return
	}
	if err := h.Service.Delete(c.Request.Context(), auth.Owner(c), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	NoContent(c)
}
