package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"veltrix/internal/events"
	"veltrix/internal/models"
	"veltrix/internal/repository"
)

// ExpireElapsed deactivates every active strategy whose duration has run out
// at now. It keeps going past individual failures and returns how many
// strategies it expired.
func (s *StrategyService) ExpireElapsed(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	active, err := s.Repo.ListActiveStrategies(ctx)
	if err != nil {
		return 0, storeErr("strategy.expire", "strategy", err)
	}

	expired := 0
	for _, item := range active {
		if ctx.Err() != nil {
			break
		}
		end, ok := item.ExpiresAt()
		if !ok || end.After(now) {
			continue
		}
		done, err := s.expireOne(ctx, item, end)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("expire strategy failed", zap.String("strategy_id", item.ID), zap.Error(err))
			}
			continue
		}
		if done {
			expired++
		}
	}
	s.Metrics.StrategiesExpired(ctx, expired)
	if expired > 0 && s.Logger != nil {
		s.Logger.Info("strategies expired", zap.Int("count", expired))
	}
	return expired, ctx.Err()
}

func (s *StrategyService) expireOne(ctx context.Context, seen models.Strategy, end time.Time) (bool, error) {
	var out *models.Strategy
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		item, err := tx.GetStrategy(ctx, seen.UserID, seen.ID)
		if err != nil || item == nil {
			return err
		}
		// Reactivated or stopped since the scan.
		if !item.IsActive || item.ActivatedAt == nil || !item.ActivatedAt.Equal(*seen.ActivatedAt) {
			return nil
		}
		if err := tx.UpdateStrategyFields(ctx, item.UserID, item.ID, map[string]any{
			"is_active":    false,
			"activated_at": nil,
		}); err != nil {
			return err
		}
		item.IsActive = false
		item.ActivatedAt = nil
		out = item
		return s.record(ctx, tx, events.StrategyExpired, item, map[string]any{"expired_at": end})
	})
	if err != nil || out == nil {
		return false, err
	}
	s.publish(ctx, events.StrategyExpired, out, map[string]any{"expired_at": end})
	return true, nil
}
