package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"veltrix/internal/errs"
	"veltrix/internal/events"
	"veltrix/internal/models"
	memoryrepository "veltrix/internal/repository/memory"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStrategyService(t *testing.T) (*StrategyService, *memoryrepository.Store, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	repo := memoryrepository.New().WithClock(clock.Now)
	svc := &StrategyService{Repo: repo, Events: events.Nop{}, HistoryLimit: 50, Now: clock.Now}
	return svc, repo, clock
}

func maCross() CreateStrategyInput {
	return CreateStrategyInput{
		Name:      "MA Cross",
		Body:      "buy when sma(10) crosses above sma(30)",
		MaxAmount: decimal.NewFromInt(1000),
		Timeframe: models.Timeframe1h,
		Duration:  models.Duration1Day,
	}
}

func mustCreate(t *testing.T, svc *StrategyService, owner string, in CreateStrategyInput) *models.Strategy {
	t.Helper()
	item, err := svc.CreateStrategy(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return item
}

func wantKind(t *testing.T, err error, kind errs.Kind) {
	t.Helper()
	if got := errs.KindOf(err); got != kind {
		t.Fatalf("kind=%q want=%q (err=%v)", got, kind, err)
	}
}

func TestCreateStrategyStartsAtVersionOne(t *testing.T) {
	svc, repo, _ := newStrategyService(t)
	ctx := context.Background()

	item := mustCreate(t, svc, "alice", maCross())
	if item.Version != 1 || item.IsActive || item.LineageID != item.ID || item.UserID != "alice" {
		t.Fatalf("item=%+v", item)
	}
	if !item.MaxAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("max_amount=%s", item.MaxAmount)
	}
	list, err := svc.ListStrategies(ctx, "alice")
	if err != nil || len(list) != 1 || list[0].Name != "MA Cross" {
		t.Fatalf("list=%+v err=%v", list, err)
	}
	evts, _ := repo.ListStrategyEvents(ctx, "alice", item.LineageID, 10)
	if len(evts) != 1 || evts[0].Type != string(events.StrategyCreated) {
		t.Fatalf("events=%+v", evts)
	}
}

func TestCreateStrategyValidation(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	cases := map[string]func(*CreateStrategyInput){
		"empty name":      func(in *CreateStrategyInput) { in.Name = "   " },
		"empty body":      func(in *CreateStrategyInput) { in.Body = "" },
		"negative amount": func(in *CreateStrategyInput) { in.MaxAmount = decimal.NewFromInt(-1) },
		"bad timeframe":   func(in *CreateStrategyInput) { in.Timeframe = "3m" },
		"bad duration":    func(in *CreateStrategyInput) { in.Duration = "forever" },
	}
	for name, mutate := range cases {
		in := maCross()
		mutate(&in)
		_, err := svc.CreateStrategy(context.Background(), "alice", in)
		if errs.KindOf(err) != errs.KindValidation {
			t.Fatalf("%s: err=%v want validation", name, err)
		}
	}
	if list, _ := svc.ListStrategies(context.Background(), "alice"); len(list) != 0 {
		t.Fatalf("rejected input persisted %d strategies", len(list))
	}
}

func TestCreateStrategyZeroAmountAllowed(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	in := maCross()
	in.MaxAmount = decimal.Zero
	mustCreate(t, svc, "alice", in)
}

func TestMissingOwnerIsUnauthenticated(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	_, err := svc.CreateStrategy(context.Background(), "", maCross())
	wantKind(t, err, errs.KindUnauthenticated)
}

func TestListStrategiesNewestFirstAndScoped(t *testing.T) {
	svc, _, clock := newStrategyService(t)
	ctx := context.Background()
	first := mustCreate(t, svc, "alice", maCross())
	clock.Advance(time.Minute)
	second := mustCreate(t, svc, "alice", maCross())
	mustCreate(t, svc, "bob", maCross())

	list, err := svc.ListStrategies(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("list=%+v", list)
	}
	if _, err := svc.GetStrategy(ctx, "bob", first.ID); errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("bob reads alice's strategy: %v", err)
	}
}

func TestToggleTwiceRestoresState(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())

	on, err := svc.ToggleActive(ctx, "alice", item.ID)
	if err != nil || !on.IsActive || on.ActivatedAt == nil {
		t.Fatalf("toggle on=%+v err=%v", on, err)
	}
	off, err := svc.ToggleActive(ctx, "alice", item.ID)
	if err != nil || off.IsActive || off.ActivatedAt != nil {
		t.Fatalf("toggle off=%+v err=%v", off, err)
	}
}

func TestSetActiveIsIdempotent(t *testing.T) {
	svc, repo, clock := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())

	first, err := svc.SetActive(ctx, "alice", item.ID, true)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	clock.Advance(time.Hour)
	again, err := svc.SetActive(ctx, "alice", item.ID, true)
	if err != nil {
		t.Fatalf("activate again: %v", err)
	}
	if !again.ActivatedAt.Equal(*first.ActivatedAt) {
		t.Fatalf("activated_at moved: %v -> %v", first.ActivatedAt, again.ActivatedAt)
	}
	evts, _ := repo.ListStrategyEvents(ctx, "alice", item.LineageID, 10)
	if len(evts) != 2 || evts[0].Type != string(events.StrategyActivated) {
		t.Fatalf("events=%+v", evts)
	}
}

func TestActivateForeignStrategyIsNotFound(t *testing.T) {
	svc, repo, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())

	_, err := svc.ToggleActive(ctx, "bob", item.ID)
	wantKind(t, err, errs.KindNotFound)
	got, _ := repo.GetStrategy(ctx, "alice", item.ID)
	if got.IsActive {
		t.Fatalf("bob activated alice's strategy")
	}
}

func TestActivateEmptyBodyRejected(t *testing.T) {
	svc, repo, _ := newStrategyService(t)
	ctx := context.Background()
	legacy := &models.Strategy{
		UserID:    "alice",
		Version:   1,
		Name:      "legacy",
		Timeframe: models.Timeframe1d,
		Duration:  models.DurationUntilStopped,
	}
	if err := repo.InsertStrategy(ctx, legacy); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := svc.SetActive(ctx, "alice", legacy.ID, true)
	wantKind(t, err, errs.KindValidation)
}

func TestSingleActiveConflict(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	svc.SingleActive = true
	ctx := context.Background()
	a := mustCreate(t, svc, "alice", maCross())
	b := mustCreate(t, svc, "alice", maCross())
	other := mustCreate(t, svc, "bob", maCross())

	if _, err := svc.SetActive(ctx, "alice", a.ID, true); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	_, err := svc.SetActive(ctx, "alice", b.ID, true)
	wantKind(t, err, errs.KindConflict)
	if _, err := svc.SetActive(ctx, "bob", other.ID, true); err != nil {
		t.Fatalf("bob blocked by alice: %v", err)
	}
	if _, err := svc.SetActive(ctx, "alice", a.ID, false); err != nil {
		t.Fatalf("deactivate a: %v", err)
	}
	if _, err := svc.SetActive(ctx, "alice", b.ID, true); err != nil {
		t.Fatalf("activate b after a stopped: %v", err)
	}
}

func TestCreateNewVersionTwice(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	ctx := context.Background()
	root := mustCreate(t, svc, "alice", maCross())
	if _, err := svc.AddParameter(ctx, "alice", root.ID, ParameterInput{Name: "fast", Value: "10", Type: models.ParamNumber}); err != nil {
		t.Fatalf("add param: %v", err)
	}
	if _, err := svc.SetActive(ctx, "alice", root.ID, true); err != nil {
		t.Fatalf("activate: %v", err)
	}

	v2, err := svc.CreateNewVersion(ctx, "alice", root.ID)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	v3, err := svc.CreateNewVersion(ctx, "alice", root.ID)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v2.Version != 2 || v3.Version != 3 {
		t.Fatalf("versions=%d,%d want=2,3", v2.Version, v3.Version)
	}
	if v2.IsActive || v2.LineageID != root.ID || v2.Name != root.Name || v2.Body != root.Body {
		t.Fatalf("v2=%+v", v2)
	}
	params, err := svc.ListParameters(ctx, "alice", v2.ID)
	if err != nil || len(params) != 1 || params[0].ParamName != "fast" || params[0].ParamValue != "10" {
		t.Fatalf("copied params=%+v err=%v", params, err)
	}
	parent, _ := svc.GetStrategy(ctx, "alice", root.ID)
	if !parent.IsActive || parent.Version != 1 {
		t.Fatalf("parent changed: %+v", parent)
	}

	versions, err := svc.ListVersions(ctx, "alice", v2.ID)
	if err != nil || len(versions) != 3 || versions[0].Version != 3 || versions[2].Version != 1 {
		t.Fatalf("versions=%+v err=%v", versions, err)
	}
}

func TestCreateNewVersionConcurrent(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	ctx := context.Background()
	root := mustCreate(t, svc, "alice", maCross())

	const workers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.CreateNewVersion(ctx, "alice", root.ID)
			if err != nil {
				t.Errorf("version: %v", err)
				return
			}
			mu.Lock()
			got = append(got, v.Version)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Ints(got)
	for i, v := range got {
		if v != i+2 {
			t.Fatalf("versions=%v want contiguous from 2", got)
		}
	}
}

func TestCreateNewVersionForeignIsNotFound(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	root := mustCreate(t, svc, "alice", maCross())
	_, err := svc.CreateNewVersion(context.Background(), "bob", root.ID)
	wantKind(t, err, errs.KindNotFound)
}

func TestDeleteStrategyCascades(t *testing.T) {
	svc, repo, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())
	p, err := svc.AddParameter(ctx, "alice", item.ID, ParameterInput{Name: "rsi", Value: "14"})
	if err != nil {
		t.Fatalf("add param: %v", err)
	}

	err = svc.DeleteStrategy(ctx, "bob", item.ID)
	wantKind(t, err, errs.KindNotFound)
	if got, _ := repo.GetStrategy(ctx, "alice", item.ID); got == nil {
		t.Fatalf("bob deleted alice's strategy")
	}

	if err := svc.DeleteStrategy(ctx, "alice", item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := repo.GetParameter(ctx, "alice", p.ID); got != nil {
		t.Fatalf("parameter survived its strategy")
	}
	_, err = svc.GetStrategy(ctx, "alice", item.ID)
	wantKind(t, err, errs.KindNotFound)
	err = svc.DeleteStrategy(ctx, "alice", item.ID)
	wantKind(t, err, errs.KindNotFound)
}

func TestAddParameterValidation(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())

	cases := map[string]ParameterInput{
		"empty name":  {Name: "", Value: "14"},
		"blank name":  {Name: "  ", Value: "14"},
		"empty value": {Name: "rsi", Value: ""},
		"bad type":    {Name: "rsi", Value: "14", Type: "integer"},
	}
	for name, in := range cases {
		_, err := svc.AddParameter(ctx, "alice", item.ID, in)
		if errs.KindOf(err) != errs.KindValidation {
			t.Fatalf("%s: err=%v want validation", name, err)
		}
	}
	params, _ := svc.ListParameters(ctx, "alice", item.ID)
	if len(params) != 0 {
		t.Fatalf("rejected parameters persisted: %+v", params)
	}
}

func TestAddParameterDefaultsAndConflicts(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())

	p, err := svc.AddParameter(ctx, "alice", item.ID, ParameterInput{Name: " mode ", Value: "aggressive"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.ParamType != models.ParamString || p.ParamName != "mode" || p.StrategyID != item.ID {
		t.Fatalf("param=%+v", p)
	}
	// Types are advisory; the value is stored verbatim.
	if _, err := svc.AddParameter(ctx, "alice", item.ID, ParameterInput{Name: "ratio", Value: "lots", Type: models.ParamPercentage}); err != nil {
		t.Fatalf("advisory type rejected: %v", err)
	}

	_, err = svc.AddParameter(ctx, "alice", item.ID, ParameterInput{Name: "mode", Value: "calm"})
	wantKind(t, err, errs.KindConflict)
	_, err = svc.AddParameter(ctx, "bob", item.ID, ParameterInput{Name: "x", Value: "1"})
	wantKind(t, err, errs.KindNotFound)
	_, err = svc.AddParameter(ctx, "alice", "missing", ParameterInput{Name: "x", Value: "1"})
	wantKind(t, err, errs.KindNotFound)
}

func TestAddedParameterListedOnce(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())
	if _, err := svc.AddParameter(ctx, "alice", item.ID, ParameterInput{Name: "fast", Value: "10", Type: models.ParamNumber}); err != nil {
		t.Fatalf("add fast: %v", err)
	}

	added, err := svc.AddParameter(ctx, "alice", item.ID, ParameterInput{
		Name:        "stop_loss",
		Value:       "2.5",
		Type:        models.ParamPercentage,
		Description: "exit below entry",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	list, err := svc.ListParameters(ctx, "alice", item.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	matches := 0
	for _, p := range list {
		if p.ParamName != "stop_loss" {
			continue
		}
		matches++
		if p.ID != added.ID || p.StrategyID != item.ID || p.ParamValue != "2.5" ||
			p.ParamType != models.ParamPercentage || p.Description != "exit below entry" {
			t.Fatalf("listed=%+v added=%+v", p, added)
		}
	}
	if matches != 1 || len(list) != 2 {
		t.Fatalf("matches=%d len=%d want=1,2", matches, len(list))
	}
}

func TestRemoveParameter(t *testing.T) {
	svc, repo, _ := newStrategyService(t)
	ctx := context.Background()
	item := mustCreate(t, svc, "alice", maCross())
	p, err := svc.AddParameter(ctx, "alice", item.ID, ParameterInput{Name: "rsi", Value: "14"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	err = svc.RemoveParameter(ctx, "bob", p.ID)
	wantKind(t, err, errs.KindNotFound)
	if err := svc.RemoveParameter(ctx, "alice", p.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got, _ := repo.GetParameter(ctx, "alice", p.ID); got != nil {
		t.Fatalf("parameter still present")
	}
	err = svc.RemoveParameter(ctx, "alice", p.ID)
	wantKind(t, err, errs.KindNotFound)
}

func TestHistoryAndPublishedEvents(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	bus := events.NewMemoryBus(16)
	svc.Events = bus
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := bus.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	item := mustCreate(t, svc, "alice", maCross())
	if _, err := svc.ToggleActive(ctx, "alice", item.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	v2, err := svc.CreateNewVersion(ctx, "alice", item.ID)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	mustCreate(t, svc, "bob", maCross())

	want := []events.Type{events.StrategyCreated, events.StrategyActivated, events.StrategyVersioned}
	for i, typ := range want {
		select {
		case evt := <-ch:
			if evt.Type != typ || evt.UserID != "alice" {
				t.Fatalf("event %d=%+v want type %s", i, evt, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}

	hist, err := svc.History(ctx, "alice", v2.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 || hist[0].Type != string(events.StrategyVersioned) || hist[2].Type != string(events.StrategyCreated) {
		t.Fatalf("history=%+v", hist)
	}
	_, err = svc.History(ctx, "bob", v2.ID, 0)
	wantKind(t, err, errs.KindNotFound)
}

type failingBus struct{ events.Nop }

func (failingBus) Publish(context.Context, events.Event) error { return errors.New("broker down") }

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	svc, _, _ := newStrategyService(t)
	svc.Events = failingBus{}
	item := mustCreate(t, svc, "alice", maCross())
	if _, err := svc.ToggleActive(context.Background(), "alice", item.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
}

func TestExpireElapsed(t *testing.T) {
	svc, _, clock := newStrategyService(t)
	ctx := context.Background()

	hourly := maCross()
	hourly.Duration = models.Duration1Hour
	short := mustCreate(t, svc, "alice", hourly)
	long := mustCreate(t, svc, "alice", maCross())
	forever := maCross()
	forever.Duration = models.DurationUntilStopped
	open := mustCreate(t, svc, "bob", forever)
	for _, item := range []*models.Strategy{short, long, open} {
		if _, err := svc.SetActive(ctx, item.UserID, item.ID, true); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}

	n, err := svc.ExpireElapsed(ctx, clock.Now().Add(59*time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("early sweep n=%d err=%v", n, err)
	}
	n, err = svc.ExpireElapsed(ctx, clock.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("sweep n=%d err=%v want=1", n, err)
	}
	got, _ := svc.GetStrategy(ctx, "alice", short.ID)
	if got.IsActive || got.ActivatedAt != nil {
		t.Fatalf("short still active: %+v", got)
	}
	n, _ = svc.ExpireElapsed(ctx, clock.Now().AddDate(1, 0, 0))
	if n != 1 {
		t.Fatalf("year sweep n=%d want=1", n)
	}
	if got, _ := svc.GetStrategy(ctx, "bob", open.ID); !got.IsActive {
		t.Fatalf("until_stopped strategy expired")
	}
	hist, _ := svc.History(ctx, "alice", short.ID, 1)
	if len(hist) != 1 || hist[0].Type != string(events.StrategyExpired) {
		t.Fatalf("history=%+v", hist)
	}
}
