package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"veltrix/internal/cache"
	"veltrix/internal/errs"
	"veltrix/internal/models"
	"veltrix/internal/ratelimit"
)

const (
	maxGoalLen      = 500
	maxSymbolLen    = 32
	maxPeriodLen    = 32
	defaultPeriod   = "1 week"
	draftNamePrefix = "AI Strategy - "
)

// DraftProducer is the completion side of the AI routes.
type DraftProducer interface {
	GenerateDraft(ctx context.Context, goal, timeframe, riskTolerance string) (string, error)
	AnalyzeMarket(ctx context.Context, symbol, period string) (string, error)
}

// AIService guards the draft producer with per-user rate limits and caches
// market analyses. Drafts it saves go through the regular strategy
// validation; model output is never trusted as-is.
type AIService struct {
	Producer   DraftProducer
	Strategies *StrategyService
	Limiter    *ratelimit.Keyed
	Cache      cache.Store
	CacheTTL   time.Duration
	// DraftFunds is the max_amount of a saved draft when the caller gives
	// none.
	DraftFunds decimal.Decimal
	Logger     *zap.Logger
}

type DraftInput struct {
	Goal          string
	Timeframe     models.Timeframe
	RiskTolerance models.RiskTolerance
}

type MarketAnalysis struct {
	Symbol   string `json:"symbol"`
	Period   string `json:"period"`
	Analysis string `json:"analysis"`
	Cached   bool   `json:"-"`
}

func (s *AIService) GenerateDraft(ctx context.Context, owner string, in DraftInput) (string, error) {
	in, err := s.prepareDraft(owner, in)
	if err != nil {
		return "", err
	}
	if err := s.allow(owner); err != nil {
		return "", err
	}
	return s.Producer.GenerateDraft(ctx, in.Goal, string(in.Timeframe), string(in.RiskTolerance))
}

// SaveDraft generates a draft and stores it as a new inactive strategy named
// after the goal. maxAmount nil uses DraftFunds.
func (s *AIService) SaveDraft(ctx context.Context, owner string, in DraftInput, maxAmount *decimal.Decimal) (*models.Strategy, error) {
	body, err := s.GenerateDraft(ctx, owner, in)
	if err != nil {
		return nil, err
	}
	if s.Strategies == nil {
		return nil, errs.Persistence("ai.save_draft", fmt.Errorf("strategy service not configured"))
	}
	funds := s.DraftFunds
	if maxAmount != nil {
		funds = *maxAmount
	}
	name := truncateUTF8(draftNamePrefix+strings.TrimSpace(in.Goal), maxNameLen)
	return s.Strategies.CreateStrategy(ctx, owner, CreateStrategyInput{
		Name:      name,
		Body:      body,
		MaxAmount: funds,
		Timeframe: in.Timeframe,
		Duration:  models.Duration1Day,
	})
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

// AnalyzeMarket answers from cache when it can. Cache hits are not rate
// limited.
func (s *AIService) AnalyzeMarket(ctx context.Context, owner, symbol, period string) (*MarketAnalysis, error) {
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	period = strings.TrimSpace(period)
	if period == "" {
		period = defaultPeriod
	}
	switch {
	case symbol == "":
		return nil, errs.Validation("symbol", "symbol is required")
	case len(symbol) > maxSymbolLen:
		return nil, errs.Validation("symbol", "symbol is too long")
	case len(period) > maxPeriodLen:
		return nil, errs.Validation("period", "period is too long")
	}

	key := "analysis:" + symbol + ":" + strings.ToLower(period)
	var hit MarketAnalysis
	found, err := cache.GetJSON(ctx, s.Cache, key, &hit)
	if err != nil && s.Logger != nil {
		s.Logger.Warn("analysis cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		hit.Cached = true
		return &hit, nil
	}

	if err := s.allow(owner); err != nil {
		return nil, err
	}
	text, err := s.Producer.AnalyzeMarket(ctx, symbol, period)
	if err != nil {
		return nil, err
	}
	out := &MarketAnalysis{Symbol: symbol, Period: period, Analysis: text}
	if s.CacheTTL > 0 {
		if err := cache.SetJSON(ctx, s.Cache, key, out, s.CacheTTL); err != nil && s.Logger != nil {
			s.Logger.Warn("analysis cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func (s *AIService) prepareDraft(owner string, in DraftInput) (DraftInput, error) {
	if err := s.ready(owner); err != nil {
		return in, err
	}
	in.Goal = strings.TrimSpace(in.Goal)
	switch {
	case in.Goal == "":
		return in, errs.Validation("goal", "goal is required")
	case len(in.Goal) > maxGoalLen:
		return in, errs.Validation("goal", "goal is too long")
	case !in.Timeframe.Valid():
		return in, errs.Validation("timeframe", "timeframe must be one of 1m, 5m, 15m, 1h, 2h, 4h, 1d, 1w")
	case !in.RiskTolerance.Valid():
		return in, errs.Validation("risk_tolerance", "risk_tolerance must be one of low, medium, high")
	}
	return in, nil
}

func (s *AIService) ready(owner string) error {
	if s == nil || s.Producer == nil {
		return errs.Upstream("ai", "ai provider not configured", nil)
	}
	if strings.TrimSpace(owner) == "" {
		return errs.Unauthenticated("missing owner")
	}
	return nil
}

func (s *AIService) allow(owner string) error {
	if !s.Limiter.Allow(owner) {
		return errs.RateLimited("too many ai requests, slow down")
	}
	return nil
}
