package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"veltrix/internal/errs"
	"veltrix/internal/models"
	"veltrix/internal/repository"
)

type BrokerAccountService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type BrokerAccountInput struct {
	BrokerName     models.BrokerName
	AccountID      string
	APIKey         string
	APISecret      string
	IsPaperTrading *bool
	Balance        decimal.Decimal
}

func (s *BrokerAccountService) Create(ctx context.Context, owner string, in BrokerAccountInput) (*models.BrokerAccount, error) {
	const op = "broker_account.create"
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	in.AccountID = strings.TrimSpace(in.AccountID)
	switch {
	case !in.BrokerName.Valid():
		return nil, errs.Validation("broker_name", "broker_name must be one of alpaca, interactive_brokers, td_ameritrade, schwab")
	case in.AccountID == "":
		return nil, errs.Validation("account_id", "account_id is required")
	case in.Balance.IsNegative():
		return nil, errs.Validation("balance", "balance must not be negative")
	}
	paper := true
	if in.IsPaperTrading != nil {
		paper = *in.IsPaperTrading
	}

	item := &models.BrokerAccount{
		ID:             uuid.NewString(),
		UserID:         owner,
		BrokerName:     in.BrokerName,
		AccountID:      in.AccountID,
		APIKey:         in.APIKey,
		APISecret:      in.APISecret,
		IsPaperTrading: paper,
		IsActive:       true,
		Balance:        in.Balance,
	}
	if err := s.Repo.InsertBrokerAccount(ctx, item); err != nil {
		return nil, storeErr(op, "broker account", err)
	}
	if s.Logger != nil {
		s.Logger.Info("broker account linked",
			zap.String("user_id", owner),
			zap.String("broker", string(item.BrokerName)),
			zap.Bool("paper", item.IsPaperTrading),
		)
	}
	return item, nil
}

func (s *BrokerAccountService) List(ctx context.Context, owner string) ([]models.BrokerAccount, error) {
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	items, err := s.Repo.ListBrokerAccounts(ctx, owner)
	if err != nil {
		return nil, storeErr("broker_account.list", "broker account", err)
	}
	return items, nil
}

func (s *BrokerAccountService) SetActive(ctx context.Context, owner, id string, active bool) (*models.BrokerAccount, error) {
	const op = "broker_account.set_active"
	if err := s.ready(owner); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateBrokerAccountFields(ctx, owner, id, map[string]any{"is_active": active}); err != nil {
		return nil, storeErr(op, "broker account", err)
	}
	item, err := s.Repo.GetBrokerAccount(ctx, owner, id)
	if err != nil {
		return nil, storeErr(op, "broker account", err)
	}
	if item == nil {
		return nil, errs.NotFound("broker account not found")
	}
	return item, nil
}

func (s *BrokerAccountService) Delete(ctx context.Context, owner, id string) error {
	if err := s.ready(owner); err != nil {
		return err
	}
	if err := s.Repo.DeleteBrokerAccount(ctx, owner, id); err != nil {
		return storeErr("broker_account.delete", "broker account", err)
	}
	return nil
}

func (s *BrokerAccountService) ready(owner string) error {
	if s == nil || s.Repo == nil {
		return errs.Persistence("broker_account", repository.ErrUnavailable)
	}
	if strings.TrimSpace(owner) == "" {
		return errs.Unauthenticated("missing owner")
	}
	return nil
}
