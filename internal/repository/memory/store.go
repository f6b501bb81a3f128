// Package memoryrepository is a process-local repository.Repository. It backs
// the "memory" db driver and the service and handler tests.
package memoryrepository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"veltrix/internal/models"
	"veltrix/internal/repository"
)

type state struct {
	strategies  map[string]models.Strategy
	seq         map[string]uint64
	parameters  map[string]models.StrategyParameter
	accounts    map[string]models.BrokerAccount
	events      []models.StrategyEvent
	nextSeq     uint64
	nextEventID uint64
}

func newState() *state {
	return &state{
		strategies: map[string]models.Strategy{},
		seq:        map[string]uint64{},
		parameters: map[string]models.StrategyParameter{},
		accounts:   map[string]models.BrokerAccount{},
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.strategies {
		out.strategies[k] = v
	}
	for k, v := range st.seq {
		out.seq[k] = v
	}
	for k, v := range st.parameters {
		out.parameters[k] = v
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	out.events = append([]models.StrategyEvent(nil), st.events...)
	out.nextSeq = st.nextSeq
	out.nextEventID = st.nextEventID
	return out
}

// Store is safe for concurrent use. Transactions hold the store lock for
// their whole duration and work on a copy that replaces the live state on
// commit.
type Store struct {
	mu  *sync.Mutex
	st  *state
	tx  bool
	now func() time.Time
}

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) with(fn func(st *state) error) error {
	if s == nil || s.st == nil {
		return repository.ErrUnavailable
	}
	if !s.tx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s == nil || s.st == nil {
		return repository.ErrUnavailable
	}
	if s.tx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&Store{mu: s.mu, st: work, tx: true, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(context.Context) error {
	if s == nil || s.st == nil {
		return repository.ErrUnavailable
	}
	return nil
}

// --- strategies -------------------------------------------------------------

func (s *Store) InsertStrategy(_ context.Context, item *models.Strategy) error {
	if item == nil {
		return nil
	}
	return s.with(func(st *state) error {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.LineageID == "" {
			item.LineageID = item.ID
		}
		if _, ok := st.strategies[item.ID]; ok {
			return repository.ErrDuplicate
		}
		for _, existing := range st.strategies {
			if existing.LineageID == item.LineageID && existing.Version == item.Version {
				return repository.ErrDuplicate
			}
		}
		now := s.now()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		st.nextSeq++
		st.seq[item.ID] = st.nextSeq
		st.strategies[item.ID] = copyStrategy(*item)
		return nil
	})
}

func (s *Store) GetStrategy(_ context.Context, userID, id string) (*models.Strategy, error) {
	var out *models.Strategy
	err := s.with(func(st *state) error {
		item, ok := st.strategies[id]
		if ok && item.UserID == userID {
			c := copyStrategy(item)
			out = &c
		}
		return nil
	})
	return out, err
}

func (s *Store) ListStrategiesByUser(_ context.Context, userID string) ([]models.Strategy, error) {
	var out []models.Strategy
	err := s.with(func(st *state) error {
		for _, item := range st.strategies {
			if item.UserID == userID {
				out = append(out, copyStrategy(item))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			if a.Version != b.Version {
				return a.Version > b.Version
			}
			return st.seq[a.ID] > st.seq[b.ID]
		})
		return nil
	})
	return out, err
}

func (s *Store) ListStrategiesByLineage(_ context.Context, userID, lineageID string) ([]models.Strategy, error) {
	var out []models.Strategy
	err := s.with(func(st *state) error {
		for _, item := range st.strategies {
			if item.UserID == userID && item.LineageID == lineageID {
				out = append(out, copyStrategy(item))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
		return nil
	})
	return out, err
}

func (s *Store) LockLineageMaxVersion(_ context.Context, lineageID string) (int, error) {
	maxVersion := 0
	err := s.with(func(st *state) error {
		for _, item := range st.strategies {
			if item.LineageID == lineageID && item.Version > maxVersion {
				maxVersion = item.Version
			}
		}
		return nil
	})
	return maxVersion, err
}

func (s *Store) UpdateStrategyFields(_ context.Context, userID, id string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return s.with(func(st *state) error {
		item, ok := st.strategies[id]
		if !ok || item.UserID != userID {
			return repository.ErrNotFound
		}
		if err := applyStrategyUpdates(&item, updates); err != nil {
			return err
		}
		item.UpdatedAt = s.now()
		st.strategies[id] = item
		return nil
	})
}

func (s *Store) DeleteStrategy(_ context.Context, userID, id string) error {
	return s.with(func(st *state) error {
		item, ok := st.strategies[id]
		if !ok || item.UserID != userID {
			return repository.ErrNotFound
		}
		delete(st.strategies, id)
		delete(st.seq, id)
		for pid, p := range st.parameters {
			if p.StrategyID == id {
				delete(st.parameters, pid)
			}
		}
		return nil
	})
}

func (s *Store) CountActiveStrategies(_ context.Context, userID, excludeID string) (int64, error) {
	var n int64
	err := s.with(func(st *state) error {
		for _, item := range st.strategies {
			if item.UserID == userID && item.IsActive && item.ID != excludeID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) ListActiveStrategies(context.Context) ([]models.Strategy, error) {
	var out []models.Strategy
	err := s.with(func(st *state) error {
		for _, item := range st.strategies {
			if item.IsActive {
				out = append(out, copyStrategy(item))
			}
		}
		sort.Slice(out, func(i, j int) bool { return st.seq[out[i].ID] < st.seq[out[j].ID] })
		return nil
	})
	return out, err
}

// --- parameters -------------------------------------------------------------

func (s *Store) InsertParameter(_ context.Context, userID string, item *models.StrategyParameter) error {
	if item == nil {
		return nil
	}
	return s.with(func(st *state) error {
		parent, ok := st.strategies[item.StrategyID]
		if !ok || parent.UserID != userID {
			return repository.ErrNotFound
		}
		for _, p := range st.parameters {
			if p.StrategyID == item.StrategyID && p.ParamName == item.ParamName {
				return repository.ErrDuplicate
			}
		}
		insertParameter(st, item, s.now())
		return nil
	})
}

func (s *Store) GetParameter(_ context.Context, userID, id string) (*models.StrategyParameter, error) {
	var out *models.StrategyParameter
	err := s.with(func(st *state) error {
		p, ok := st.parameters[id]
		if !ok {
			return nil
		}
		if parent, ok := st.strategies[p.StrategyID]; ok && parent.UserID == userID {
			out = &p
		}
		return nil
	})
	return out, err
}

func (s *Store) ListParameters(_ context.Context, userID, strategyID string) ([]models.StrategyParameter, error) {
	var out []models.StrategyParameter
	err := s.with(func(st *state) error {
		parent, ok := st.strategies[strategyID]
		if !ok || parent.UserID != userID {
			return nil
		}
		for _, p := range st.parameters {
			if p.StrategyID == strategyID {
				out = append(out, p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ParamName < out[j].ParamName })
		return nil
	})
	return out, err
}

func (s *Store) DeleteParameter(_ context.Context, userID, id string) error {
	return s.with(func(st *state) error {
		p, ok := st.parameters[id]
		if !ok {
			return repository.ErrNotFound
		}
		parent, ok := st.strategies[p.StrategyID]
		if !ok || parent.UserID != userID {
			return repository.ErrNotFound
		}
		delete(st.parameters, id)
		return nil
	})
}

func (s *Store) DeleteParametersByStrategy(_ context.Context, strategyID string) (int64, error) {
	var n int64
	err := s.with(func(st *state) error {
		for id, p := range st.parameters {
			if p.StrategyID == strategyID {
				delete(st.parameters, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) CopyParameters(_ context.Context, fromStrategyID, toStrategyID string) (int64, error) {
	var n int64
	err := s.with(func(st *state) error {
		if _, ok := st.strategies[toStrategyID]; !ok {
			return fmt.Errorf("copy parameters: target strategy %s missing", toStrategyID)
		}
		var src []models.StrategyParameter
		for _, p := range st.parameters {
			if p.StrategyID == fromStrategyID {
				src = append(src, p)
			}
		}
		now := s.now()
		for _, p := range src {
			dup := models.StrategyParameter{
				StrategyID:  toStrategyID,
				ParamName:   p.ParamName,
				ParamValue:  p.ParamValue,
				ParamType:   p.ParamType,
				Description: p.Description,
			}
			insertParameter(st, &dup, now)
			n++
		}
		return nil
	})
	return n, err
}

func insertParameter(st *state, item *models.StrategyParameter, now time.Time) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ParamType == "" {
		item.ParamType = models.ParamString
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	st.parameters[item.ID] = *item
}

// --- broker accounts --------------------------------------------------------

func (s *Store) InsertBrokerAccount(_ context.Context, item *models.BrokerAccount) error {
	if item == nil {
		return nil
	}
	return s.with(func(st *state) error {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, ok := st.accounts[item.ID]; ok {
			return repository.ErrDuplicate
		}
		now := s.now()
		item.CreatedAt = now
		item.UpdatedAt = now
		st.accounts[item.ID] = *item
		return nil
	})
}

func (s *Store) GetBrokerAccount(_ context.Context, userID, id string) (*models.BrokerAccount, error) {
	var out *models.BrokerAccount
	err := s.with(func(st *state) error {
		item, ok := st.accounts[id]
		if ok && item.UserID == userID {
			out = &item
		}
		return nil
	})
	return out, err
}

func (s *Store) ListBrokerAccounts(_ context.Context, userID string) ([]models.BrokerAccount, error) {
	var out []models.BrokerAccount
	err := s.with(func(st *state) error {
		for _, item := range st.accounts {
			if item.UserID == userID {
				out = append(out, item)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (s *Store) UpdateBrokerAccountFields(_ context.Context, userID, id string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return s.with(func(st *state) error {
		item, ok := st.accounts[id]
		if !ok || item.UserID != userID {
			return repository.ErrNotFound
		}
		for key, value := range updates {
			switch key {
			case "is_active":
				item.IsActive, ok = value.(bool)
			case "is_paper_trading":
				item.IsPaperTrading, ok = value.(bool)
			case "balance":
				item.Balance, ok = value.(decimal.Decimal)
			default:
				return fmt.Errorf("broker account: unsupported update field %q", key)
			}
			if !ok {
				return fmt.Errorf("broker account: bad value for %q: %T", key, value)
			}
		}
		item.UpdatedAt = s.now()
		st.accounts[id] = item
		return nil
	})
}

func (s *Store) DeleteBrokerAccount(_ context.Context, userID, id string) error {
	return s.with(func(st *state) error {
		item, ok := st.accounts[id]
		if !ok || item.UserID != userID {
			return repository.ErrNotFound
		}
		delete(st.accounts, id)
		return nil
	})
}

// --- lifecycle events -------------------------------------------------------

func (s *Store) InsertStrategyEvent(_ context.Context, item *models.StrategyEvent) error {
	if item == nil {
		return nil
	}
	return s.with(func(st *state) error {
		st.nextEventID++
		item.ID = st.nextEventID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = s.now()
		}
		st.events = append(st.events, *item)
		return nil
	})
}

func (s *Store) ListStrategyEvents(_ context.Context, userID, lineageID string, limit int) ([]models.StrategyEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.StrategyEvent
	err := s.with(func(st *state) error {
		for i := len(st.events) - 1; i >= 0 && len(out) < limit; i-- {
			ev := st.events[i]
			if ev.UserID == userID && ev.LineageID == lineageID {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out, err
}

func copyStrategy(item models.Strategy) models.Strategy {
	if item.ActivatedAt != nil {
		at := *item.ActivatedAt
		item.ActivatedAt = &at
	}
	return item
}

func applyStrategyUpdates(item *models.Strategy, updates map[string]any) error {
	for key, value := range updates {
		ok := true
		switch key {
		case "is_active":
			item.IsActive, ok = value.(bool)
		case "activated_at":
			switch v := value.(type) {
			case nil:
				item.ActivatedAt = nil
			case time.Time:
				item.ActivatedAt = &v
			case *time.Time:
				if v == nil {
					item.ActivatedAt = nil
				} else {
					at := *v
					item.ActivatedAt = &at
				}
			default:
				ok = false
			}
		case "name":
			item.Name, ok = value.(string)
		case "body":
			item.Body, ok = value.(string)
		case "max_amount":
			item.MaxAmount, ok = value.(decimal.Decimal)
		case "timeframe":
			item.Timeframe, ok = value.(models.Timeframe)
		case "duration":
			item.Duration, ok = value.(models.Duration)
		default:
			return fmt.Errorf("strategy: unsupported update field %q", key)
		}
		if !ok {
			return fmt.Errorf("strategy: bad value for %q: %T", key, value)
		}
	}
	return nil
}
