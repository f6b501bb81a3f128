// Package aidraft turns a trading goal into a strategy draft, and a symbol
// into a short market analysis, with one completion call each.
package aidraft

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"veltrix/internal/client/llm"
	"veltrix/internal/errs"
	"veltrix/internal/telemetry"
)

type Producer struct {
	Completer llm.Completer
	Timeout   time.Duration
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
}

func (p *Producer) GenerateDraft(ctx context.Context, goal, timeframe, riskTolerance string) (string, error) {
	return p.complete(ctx, "draft", llm.Request{
		Prompt:      DraftPrompt(goal, timeframe, riskTolerance),
		Temperature: DraftTemperature,
		MaxTokens:   DraftMaxTokens,
	})
}

func (p *Producer) AnalyzeMarket(ctx context.Context, symbol, period string) (string, error) {
	return p.complete(ctx, "analysis", llm.Request{
		Prompt:      AnalysisPrompt(symbol, period),
		Temperature: AnalysisTemperature,
		MaxTokens:   AnalysisMaxTokens,
	})
}

func (p *Producer) complete(ctx context.Context, kind string, req llm.Request) (string, error) {
	op := "ai." + kind
	if p == nil || p.Completer == nil {
		return "", errs.Upstream(op, "ai provider not configured", nil)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.Completer.Complete(ctx, req)
	p.Metrics.AIRequest(ctx, kind, time.Since(start), err)
	if err == nil {
		return text, nil
	}

	if p.Logger != nil {
		p.Logger.Warn("completion failed",
			zap.String("kind", kind),
			zap.String("provider", p.Completer.Name()),
			zap.Int("status", llm.StatusCode(err)),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
	}
	msg := "ai provider request failed"
	switch {
	case errors.Is(err, llm.ErrEmptyCompletion):
		msg = "ai provider returned no content"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "ai provider timed out"
	}
	return "", errs.Upstream(op, msg, err)
}
