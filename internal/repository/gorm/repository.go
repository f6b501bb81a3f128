package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"veltrix/internal/models"
	"veltrix/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

// --- strategies -------------------------------------------------------------

func (s *Store) InsertStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(item).Error)
}

func (s *Store) GetStrategy(ctx context.Context, userID, id string) (*models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListStrategiesByUser(ctx context.Context, userID string) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.Strategy
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Order("version desc").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStrategiesByLineage(ctx context.Context, userID, lineageID string) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.Strategy
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND lineage_id = ?", userID, lineageID).
		Order("version desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LockLineageMaxVersion(ctx context.Context, lineageID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	// A row lock would not cover versions inserted after our snapshot, so
	// serialize on the lineage id itself. The lock is released at commit.
	if s.db.Dialector.Name() == "postgres" {
		if err := s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lineageID).Error; err != nil {
			return 0, err
		}
	}
	var maxVersion int
	err := s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Select("COALESCE(MAX(version), 0)").
		Where("lineage_id = ?", lineageID).
		Scan(&maxVersion).Error
	if err != nil {
		return 0, err
	}
	return maxVersion, nil
}

func (s *Store) UpdateStrategyFields(ctx context.Context, userID, id string, updates map[string]any) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteStrategy(ctx context.Context, userID, id string) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Strategy{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) CountActiveStrategies(ctx context.Context, userID, excludeID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	query := s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("user_id = ? AND is_active = ?", userID, true)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ListActiveStrategies(ctx context.Context) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.Strategy
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("activated_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- parameters -------------------------------------------------------------

func (s *Store) InsertParameter(ctx context.Context, userID string, item *models.StrategyParameter) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if item == nil {
		return nil
	}
	owned, err := s.ownsStrategy(ctx, userID, item.StrategyID)
	if err != nil {
		return err
	}
	if !owned {
		return repository.ErrNotFound
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetParameter(ctx context.Context, userID, id string) (*models.StrategyParameter, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var item models.StrategyParameter
	err := s.db.WithContext(ctx).
		Where("id = ? AND strategy_id IN (?)", id, s.ownedStrategyIDs(ctx, userID)).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListParameters(ctx context.Context, userID, strategyID string) ([]models.StrategyParameter, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.StrategyParameter
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND strategy_id IN (?)", strategyID, s.ownedStrategyIDs(ctx, userID)).
		Order("param_name asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteParameter(ctx context.Context, userID, id string) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND strategy_id IN (?)", id, s.ownedStrategyIDs(ctx, userID)).
		Delete(&models.StrategyParameter{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteParametersByStrategy(ctx context.Context, strategyID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	res := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Delete(&models.StrategyParameter{})
	return res.RowsAffected, res.Error
}

func (s *Store) CopyParameters(ctx context.Context, fromStrategyID, toStrategyID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, repository.ErrUnavailable
	}
	var src []models.StrategyParameter
	if err := s.db.WithContext(ctx).Where("strategy_id = ?", fromStrategyID).Find(&src).Error; err != nil {
		return 0, err
	}
	if len(src) == 0 {
		return 0, nil
	}
	copies := make([]models.StrategyParameter, 0, len(src))
	for _, p := range src {
		copies = append(copies, models.StrategyParameter{
			StrategyID:  toStrategyID,
			ParamName:   p.ParamName,
			ParamValue:  p.ParamValue,
			ParamType:   p.ParamType,
			Description: p.Description,
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(copies, 200).Error; err != nil {
		return 0, translate(err)
	}
	return int64(len(copies)), nil
}

func (s *Store) ownsStrategy(ctx context.Context, userID, strategyID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ? AND user_id = ?", strategyID, userID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) ownedStrategyIDs(ctx context.Context, userID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Select("id").
		Where("user_id = ?", userID)
}

// --- broker accounts --------------------------------------------------------

func (s *Store) InsertBrokerAccount(ctx context.Context, item *models.BrokerAccount) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetBrokerAccount(ctx context.Context, userID, id string) (*models.BrokerAccount, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var item models.BrokerAccount
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBrokerAccounts(ctx context.Context, userID string) ([]models.BrokerAccount, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.BrokerAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateBrokerAccountFields(ctx context.Context, userID, id string, updates map[string]any) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.BrokerAccount{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBrokerAccount(ctx context.Context, userID, id string) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.BrokerAccount{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// --- lifecycle events -------------------------------------------------------

func (s *Store) InsertStrategyEvent(ctx context.Context, item *models.StrategyEvent) error {
	if s == nil || s.db == nil {
		return repository.ErrUnavailable
	}
	if item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListStrategyEvents(ctx context.Context, userID, lineageID string, limit int) ([]models.StrategyEvent, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrUnavailable
	}
	var items []models.StrategyEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND lineage_id = ?", userID, lineageID).
		Order("id desc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// translate maps driver specific unique violations onto repository.ErrDuplicate.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicate
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return repository.ErrDuplicate
	}
	return err
}
