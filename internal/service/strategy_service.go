package service

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"veltrix/internal/errs"
	"veltrix/internal/events"
	"veltrix/internal/models"
	"veltrix/internal/repository"
	"veltrix/internal/telemetry"
)

const (
	maxNameLen      = 200
	maxParamNameLen = 100
)

// StrategyService owns the strategy lifecycle. Every method takes the
// authenticated owner; nothing is ever read or written for another user.
type StrategyService struct {
	Repo    repository.Repository
	Events  events.Bus
	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	// SingleActive rejects activation while another strategy of the owner
	// is active.
	SingleActive bool
	HistoryLimit int
	Now          func() time.Time
}

type CreateStrategyInput struct {
	Name      string
	Body      string
	MaxAmount decimal.Decimal
	Timeframe models.Timeframe
	Duration  models.Duration
}

type ParameterInput struct {
	Name        string
	Value       string
	Type        models.ParamType
	Description string
}

func (s *StrategyService) CreateStrategy(ctx context.Context, owner string, in CreateStrategyInput) (*models.Strategy, error) {
	const op = "strategy.create"
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStrategyInput(in); err != nil {
		return nil, err
	}

	item := &models.Strategy{
		ID:        uuid.NewString(),
		UserID:    owner,
		Version:   1,
		Name:      in.Name,
		Body:      in.Body,
		MaxAmount: in.MaxAmount,
		Timeframe: in.Timeframe,
		Duration:  in.Duration,
	}
	item.LineageID = item.ID

	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.InsertStrategy(ctx, item); err != nil {
			return err
		}
		return s.record(ctx, tx, events.StrategyCreated, item, nil)
	})
	s.Metrics.StrategyOp(ctx, "create", err)
	if err != nil {
		return nil, storeErr(op, "strategy", err)
	}
	s.publish(ctx, events.StrategyCreated, item, nil)
	return item, nil
}

func (s *StrategyService) ListStrategies(ctx context.Context, owner string) ([]models.Strategy, error) {
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	items, err := s.Repo.ListStrategiesByUser(ctx, owner)
	if err != nil {
		return nil, storeErr("strategy.list", "strategy", err)
	}
	return items, nil
}

func (s *StrategyService) GetStrategy(ctx context.Context, owner, id string) (*models.Strategy, error) {
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	item, err := s.Repo.GetStrategy(ctx, owner, id)
	if err != nil {
		return nil, storeErr("strategy.get", "strategy", err)
	}
	if item == nil {
		return nil, errs.NotFound("strategy not found")
	}
	return item, nil
}

// ListVersions returns every version in id's lineage, newest version first.
func (s *StrategyService) ListVersions(ctx context.Context, owner, id string) ([]models.Strategy, error) {
	item, err := s.GetStrategy(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	items, err := s.Repo.ListStrategiesByLineage(ctx, owner, item.LineageID)
	if err != nil {
		return nil, storeErr("strategy.versions", "strategy", err)
	}
	return items, nil
}

// ToggleActive flips is_active.
func (s *StrategyService) ToggleActive(ctx context.Context, owner, id string) (*models.Strategy, error) {
	return s.changeActive(ctx, owner, id, nil)
}

// SetActive is idempotent: asking for the current state changes nothing.
func (s *StrategyService) SetActive(ctx context.Context, owner, id string, active bool) (*models.Strategy, error) {
	return s.changeActive(ctx, owner, id, &active)
}

func (s *StrategyService) changeActive(ctx context.Context, owner, id string, desired *bool) (*models.Strategy, error) {
	const op = "strategy.activate"
	if err := s.ready(owner); err != nil {
		return nil, err
	}

	var (
		out     *models.Strategy
		evtType events.Type
	)
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		item, err := tx.GetStrategy(ctx, owner, id)
		if err != nil {
			return err
		}
		if item == nil {
			return repository.ErrNotFound
		}
		want := !item.IsActive
		if desired != nil {
			want = *desired
		}
		if want == item.IsActive {
			out = item
			return nil
		}

		updates := map[string]any{"is_active": want}
		if want {
			if strings.TrimSpace(item.Body) == "" {
				return errs.Validation("body", "cannot activate a strategy with an empty body")
			}
			if s.SingleActive {
				n, err := tx.CountActiveStrategies(ctx, owner, item.ID)
				if err != nil {
					return err
				}
				if n > 0 {
					return errs.Conflict("another strategy is already active")
				}
			}
			updates["activated_at"] = s.now()
			evtType = events.StrategyActivated
		} else {
			updates["activated_at"] = nil
			evtType = events.StrategyDeactivated
		}
		if err := tx.UpdateStrategyFields(ctx, owner, item.ID, updates); err != nil {
			return err
		}
		if out, err = tx.GetStrategy(ctx, owner, item.ID); err != nil {
			return err
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return s.record(ctx, tx, evtType, out, nil)
	})
	s.Metrics.StrategyOp(ctx, "activate", err)
	if err != nil {
		return nil, storeErr(op, "strategy", err)
	}
	if evtType != "" {
		s.publish(ctx, evtType, out, nil)
	}
	return out, nil
}

// CreateNewVersion copies id and its parameters into the next version of the
// lineage. The copy starts inactive.
func (s *StrategyService) CreateNewVersion(ctx context.Context, owner, id string) (*models.Strategy, error) {
	const op = "strategy.version"
	if err := s.ready(owner); err != nil {
		return nil, err
	}

	var (
		next   *models.Strategy
		detail map[string]any
	)
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		parent, err := tx.GetStrategy(ctx, owner, id)
		if err != nil {
			return err
		}
		if parent == nil {
			return repository.ErrNotFound
		}
		latest, err := tx.LockLineageMaxVersion(ctx, parent.LineageID)
		if err != nil {
			return err
		}
		if latest < parent.Version {
			latest = parent.Version
		}
		next = &models.Strategy{
			ID:        uuid.NewString(),
			UserID:    owner,
			LineageID: parent.LineageID,
			Version:   latest + 1,
			Name:      parent.Name,
			Body:      parent.Body,
			MaxAmount: parent.MaxAmount,
			Timeframe: parent.Timeframe,
			Duration:  parent.Duration,
		}
		if err := tx.InsertStrategy(ctx, next); err != nil {
			return err
		}
		copied, err := tx.CopyParameters(ctx, parent.ID, next.ID)
		if err != nil {
			return err
		}
		detail = map[string]any{
			"parent_id":         parent.ID,
			"parent_version":    parent.Version,
			"parameters_copied": copied,
		}
		return s.record(ctx, tx, events.StrategyVersioned, next, detail)
	})
	s.Metrics.StrategyOp(ctx, "version", err)
	if err != nil {
		return nil, storeErr(op, "strategy", err)
	}
	s.publish(ctx, events.StrategyVersioned, next, detail)
	return next, nil
}

// DeleteStrategy removes the strategy and its parameters together.
func (s *StrategyService) DeleteStrategy(ctx context.Context, owner, id string) error {
	const op = "strategy.delete"
	if err := s.ready(owner); err != nil {
		return err
	}

	var (
		item   *models.Strategy
		detail map[string]any
	)
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		var err error
		if item, err = tx.GetStrategy(ctx, owner, id); err != nil {
			return err
		}
		if item == nil {
			return repository.ErrNotFound
		}
		removed, err := tx.DeleteParametersByStrategy(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteStrategy(ctx, owner, item.ID); err != nil {
			return err
		}
		item.IsActive = false
		detail = map[string]any{"parameters_removed": removed}
		return s.record(ctx, tx, events.StrategyDeleted, item, detail)
	})
	s.Metrics.StrategyOp(ctx, "delete", err)
	if err != nil {
		return storeErr(op, "strategy", err)
	}
	s.publish(ctx, events.StrategyDeleted, item, detail)
	return nil
}

func (s *StrategyService) AddParameter(ctx context.Context, owner, strategyID string, in ParameterInput) (*models.StrategyParameter, error) {
	const op = "parameter.add"
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Type == "" {
		in.Type = models.ParamString
	}
	switch {
	case in.Name == "":
		return nil, errs.Validation("param_name", "param_name is required")
	case len(in.Name) > maxParamNameLen:
		return nil, errs.Validation("param_name", "param_name is too long")
	case strings.TrimSpace(in.Value) == "":
		return nil, errs.Validation("param_value", "param_value is required")
	case !in.Type.Valid():
		return nil, errs.Validation("param_type", "param_type must be one of string, number, boolean, percentage")
	}

	param := &models.StrategyParameter{
		ID:          uuid.NewString(),
		StrategyID:  strategyID,
		ParamName:   in.Name,
		ParamValue:  in.Value,
		ParamType:   in.Type,
		Description: strings.TrimSpace(in.Description),
	}
	var (
		parent *models.Strategy
		detail map[string]any
	)
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		var err error
		if parent, err = tx.GetStrategy(ctx, owner, strategyID); err != nil {
			return err
		}
		if parent == nil {
			return repository.ErrNotFound
		}
		if err := tx.InsertParameter(ctx, owner, param); err != nil {
			return err
		}
		detail = map[string]any{"parameter_id": param.ID, "param_name": param.ParamName}
		return s.record(ctx, tx, events.ParameterAdded, parent, detail)
	})
	s.Metrics.StrategyOp(ctx, "parameter_add", err)
	if err != nil {
		return nil, storeErr(op, "parameter", err)
	}
	s.publish(ctx, events.ParameterAdded, parent, detail)
	return param, nil
}

func (s *StrategyService) ListParameters(ctx context.Context, owner, strategyID string) ([]models.StrategyParameter, error) {
	if _, err := s.GetStrategy(ctx, owner, strategyID); err != nil {
		return nil, err
	}
	items, err := s.Repo.ListParameters(ctx, owner, strategyID)
	if err != nil {
		return nil, storeErr("parameter.list", "parameter", err)
	}
	return items, nil
}

func (s *StrategyService) RemoveParameter(ctx context.Context, owner, parameterID string) error {
	const op = "parameter.remove"
	if err := s.ready(owner); err != nil {
		return err
	}

	var (
		parent *models.Strategy
		detail map[string]any
	)
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		param, err := tx.GetParameter(ctx, owner, parameterID)
		if err != nil {
			return err
		}
		if param == nil {
			return repository.ErrNotFound
		}
		if parent, err = tx.GetStrategy(ctx, owner, param.StrategyID); err != nil {
			return err
		}
		if parent == nil {
			return repository.ErrNotFound
		}
		if err := tx.DeleteParameter(ctx, owner, param.ID); err != nil {
			return err
		}
		detail = map[string]any{"parameter_id": param.ID, "param_name": param.ParamName}
		return s.record(ctx, tx, events.ParameterRemoved, parent, detail)
	})
	s.Metrics.StrategyOp(ctx, "parameter_remove", err)
	if err != nil {
		return storeErr(op, "parameter", err)
	}
	s.publish(ctx, events.ParameterRemoved, parent, detail)
	return nil
}

// History lists the audit trail of id's lineage, newest first. limit <= 0
// uses the configured default.
func (s *StrategyService) History(ctx context.Context, owner, id string, limit int) ([]models.StrategyEvent, error) {
	item, err := s.GetStrategy(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.HistoryLimit
	}
	items, err := s.Repo.ListStrategyEvents(ctx, owner, item.LineageID, limit)
	if err != nil {
		return nil, storeErr("strategy.history", "strategy", err)
	}
	return items, nil
}

func (s *StrategyService) ready(owner string) error {
	if s == nil || s.Repo == nil {
		return errs.Persistence("strategy", repository.ErrUnavailable)
	}
	if strings.TrimSpace(owner) == "" {
		return errs.Unauthenticated("missing owner")
	}
	return nil
}

func (s *StrategyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *StrategyService) record(ctx context.Context, tx repository.Repository, typ events.Type, item *models.Strategy, detail map[string]any) error {
	row := &models.StrategyEvent{
		StrategyID: item.ID,
		LineageID:  item.LineageID,
		UserID:     item.UserID,
		Type:       string(typ),
		Version:    item.Version,
	}
	if len(detail) > 0 {
		raw, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		row.Details = datatypes.JSON(raw)
	}
	return tx.InsertStrategyEvent(ctx, row)
}

// publish runs after commit. A failed publish never fails the operation.
func (s *StrategyService) publish(ctx context.Context, typ events.Type, item *models.Strategy, detail map[string]any) {
	if s.Events == nil || item == nil {
		return
	}
	evt := events.Event{
		Type:       typ,
		UserID:     item.UserID,
		StrategyID: item.ID,
		LineageID:  item.LineageID,
		Version:    item.Version,
		IsActive:   item.IsActive,
		Detail:     detail,
		At:         s.now(),
	}
	if err := s.Events.Publish(context.WithoutCancel(ctx), evt); err != nil && s.Logger != nil {
		s.Logger.Warn("publish strategy event failed",
			zap.String("type", string(typ)),
			zap.String("strategy_id", item.ID),
			zap.Error(err),
		)
	}
}

func validateStrategyInput(in CreateStrategyInput) error {
	switch {
	case in.Name == "":
		return errs.Validation("name", "name is required")
	case len(in.Name) > maxNameLen:
		return errs.Validation("name", "name is too long")
	case strings.TrimSpace(in.Body) == "":
		return errs.Validation("body", "body is required")
	case in.MaxAmount.IsNegative():
		return errs.Validation("max_amount", "max_amount must not be negative")
	case !in.Timeframe.Valid():
		return errs.Validation("timeframe", "timeframe must be one of 1m, 5m, 15m, 1h, 2h, 4h, 1d, 1w")
	case !in.Duration.Valid():
		return errs.Validation("duration", "duration must be one of 1_hour, 2_hours, 1_day, 1_week, 1_month, until_stopped")
	}
	return nil
}
