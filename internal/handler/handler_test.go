package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"veltrix/internal/auth"
	"veltrix/internal/errs"
	"veltrix/internal/events"
	"veltrix/internal/models"
	memoryrepository "veltrix/internal/repository/memory"
	"veltrix/internal/service"
)

var errUpstream = errs.Upstream("ai.draft", "ai provider request failed", nil)

var testJWT = auth.JWT{Secret: []byte("handler-test-secret-0123"), Issuer: "veltrix", TokenTTL: time.Hour}

type testEnv struct {
	engine *gin.Engine
	repo   *memoryrepository.Store
	bus    *events.MemoryBus
	ai     *stubProducer
}

type stubProducer struct {
	draft    string
	analysis string
	err      error
}

func (p *stubProducer) GenerateDraft(context.Context, string, string, string) (string, error) {
	return p.draft, p.err
}

func (p *stubProducer) AnalyzeMarket(context.Context, string, string) (string, error) {
	return p.analysis, p.err
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memoryrepository.New()
	bus := events.NewMemoryBus(16)
	strategies := &service.StrategyService{Repo: repo, Events: bus, HistoryLimit: 50}
	prod := &stubProducer{draft: "Strategy Name: Dip Buyer", analysis: "range bound"}
	rt := Router{
		JWT:        testJWT,
		Health:     &HealthHandler{Store: repo},
		Strategies: &StrategyHandler{Service: strategies},
		Brokers:    &BrokerAccountHandler{Service: &service.BrokerAccountService{Repo: repo}},
		AI:         &AIHandler{Service: &service.AIService{Producer: prod, Strategies: strategies}},
		Events:     &EventsHandler{Bus: bus},
	}
	return &testEnv{engine: rt.Engine(), repo: repo, bus: bus, ai: prod}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok, _, err := testJWT.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", env.Data, err)
		}
	}
	return env
}

func maCrossBody() map[string]any {
	return map[string]any{
		"name":       "MA Cross",
		"body":       "buy when sma(10) crosses above sma(30)",
		"timeframe":  "1h",
		"duration":   "1_day",
		"max_amount": "1000",
	}
}

func (e *testEnv) create(t *testing.T, user string) models.Strategy {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/strategies", user, maCrossBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var item models.Strategy
	decode(t, rec, &item)
	return item
}

func TestRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/strategies", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rec.Code)
	}
}

func TestCreateAndListStrategies(t *testing.T) {
	env := newTestEnv(t)
	item := env.create(t, "alice")
	if item.Version != 1 || item.IsActive || item.UserID != "alice" || item.MaxAmount.String() != "1000" {
		t.Fatalf("item=%+v", item)
	}
	env.create(t, "bob")

	rec := env.do(t, http.MethodGet, "/api/v1/strategies/alice", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var items []models.Strategy
	decode(t, rec, &items)
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("items=%+v", items)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/strategies/alice", "bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-owner list status=%d want=403", rec.Code)
	}
}

func TestCreateStrategyRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]any{
		"malformed json":   "{not json",
		"missing name":     map[string]any{"body": "x", "timeframe": "1h", "duration": "1_day", "max_amount": 1},
		"missing amount":   map[string]any{"name": "n", "body": "x", "timeframe": "1h", "duration": "1_day"},
		"negative amount":  map[string]any{"name": "n", "body": "x", "timeframe": "1h", "duration": "1_day", "max_amount": -1},
		"unknown duration": map[string]any{"name": "n", "body": "x", "timeframe": "1h", "duration": "1_year", "max_amount": 1},
	}
	for name, body := range cases {
		rec := env.do(t, http.MethodPost, "/api/v1/strategies", "alice", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want=400 body=%s", name, rec.Code, rec.Body.String())
		}
	}
	items, _ := env.repo.ListStrategiesByUser(context.Background(), "alice")
	if len(items) != 0 {
		t.Fatalf("rejected input persisted %d strategies", len(items))
	}
}

func TestCreateStrategyAcceptsPineScriptField(t *testing.T) {
	env := newTestEnv(t)
	body := maCrossBody()
	delete(body, "body")
	body["pine_script"] = "strategy.entry(\"long\", strategy.long)"
	rec := env.do(t, http.MethodPost, "/api/v1/strategies", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d want=201 body=%s", rec.Code, rec.Body.String())
	}
	var item models.Strategy
	decode(t, rec, &item)
	if item.Body != body["pine_script"] {
		t.Fatalf("body=%q want=%q", item.Body, body["pine_script"])
	}

	both := maCrossBody()
	both["pine_script"] = "ignored"
	rec = env.do(t, http.MethodPost, "/api/v1/strategies", "alice", both)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d want=201", rec.Code)
	}
	decode(t, rec, &item)
	if item.Body != both["body"] {
		t.Fatalf("body=%q want=%q", item.Body, both["body"])
	}
}

func TestCreateStrategyOwnerComesFromToken(t *testing.T) {
	env := newTestEnv(t)
	body := maCrossBody()
	body["user_id"] = "mallory"
	rec := env.do(t, http.MethodPost, "/api/v1/strategies", "alice", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d want=403", rec.Code)
	}
	body["user_id"] = "alice"
	rec = env.do(t, http.MethodPost, "/api/v1/strategies", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d want=201", rec.Code)
	}
}

func TestActivateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	item := env.create(t, "alice")
	path := "/api/v1/strategies/" + item.ID + "/activate"

	var got models.Strategy
	rec := env.do(t, http.MethodPatch, path, "alice", map[string]any{"is_active": true})
	decode(t, rec, &got)
	if rec.Code != http.StatusOK || !got.IsActive || got.ActivatedAt == nil {
		t.Fatalf("activate status=%d item=%+v", rec.Code, got)
	}
	rec = env.do(t, http.MethodPatch, path, "alice", nil)
	decode(t, rec, &got)
	if rec.Code != http.StatusOK || got.IsActive {
		t.Fatalf("toggle status=%d item=%+v", rec.Code, got)
	}
	rec = env.do(t, http.MethodPatch, path, "bob", map[string]any{"is_active": true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign activate status=%d want=404", rec.Code)
	}
	rec = env.do(t, http.MethodPatch, path, "alice", `{"is_active": "yes"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad flag status=%d want=400", rec.Code)
	}
}

func TestVersionsParametersAndDelete(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "alice")
	base := "/api/v1/strategies/" + root.ID

	rec := env.do(t, http.MethodPost, base+"/parameters", "alice", map[string]any{
		"param_name": "fast", "param_value": "10", "param_type": "number",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add param status=%d body=%s", rec.Code, rec.Body.String())
	}
	var param models.StrategyParameter
	decode(t, rec, &param)

	rec = env.do(t, http.MethodPost, base+"/parameters", "alice", map[string]any{"param_name": "", "param_value": "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name status=%d want=400", rec.Code)
	}
	rec = env.do(t, http.MethodPost, base+"/parameters", "alice", map[string]any{"param_name": "fast", "param_value": "12"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d want=409", rec.Code)
	}

	var v2, v3 models.Strategy
	decode(t, env.do(t, http.MethodPost, base+"/versions", "alice", nil), &v2)
	decode(t, env.do(t, http.MethodPost, base+"/versions", "alice", nil), &v3)
	if v2.Version != 2 || v3.Version != 3 {
		t.Fatalf("versions=%d,%d want=2,3", v2.Version, v3.Version)
	}
	var versions []models.Strategy
	decode(t, env.do(t, http.MethodGet, base+"/versions", "alice", nil), &versions)
	if len(versions) != 3 {
		t.Fatalf("versions=%+v", versions)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/parameters/"+param.ID, "bob", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign param delete status=%d want=404", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, base, "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, base+"/parameters", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("params after delete status=%d want=404", rec.Code)
	}
	if p, _ := env.repo.GetParameter(context.Background(), "alice", param.ID); p != nil {
		t.Fatalf("parameter survived delete")
	}

	var hist []models.StrategyEvent
	decode(t, env.do(t, http.MethodGet, "/api/v1/strategies/"+v2.ID+"/history?limit=2", "alice", nil), &hist)
	if len(hist) != 2 || hist[0].Type != string(events.StrategyDeleted) {
		t.Fatalf("history=%+v", hist)
	}
}

func TestBrokerAccountRoutesHideCredentials(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/broker-accounts", "alice", map[string]any{
		"broker_name": "alpaca", "account_id": "PA-1", "api_key": "k-123", "api_secret": "s-456",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("s-456")) || bytes.Contains(rec.Body.Bytes(), []byte("k-123")) {
		t.Fatalf("credentials leaked: %s", rec.Body.String())
	}
	var acct models.BrokerAccount
	decode(t, rec, &acct)

	rec = env.do(t, http.MethodPatch, "/api/v1/broker-accounts/"+acct.ID+"/active", "alice", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing flag status=%d want=400", rec.Code)
	}
	rec = env.do(t, http.MethodPatch, "/api/v1/broker-accounts/"+acct.ID+"/active", "alice", map[string]any{"is_active": false})
	decode(t, rec, &acct)
	if rec.Code != http.StatusOK || acct.IsActive {
		t.Fatalf("status=%d acct=%+v", rec.Code, acct)
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/broker-accounts/"+acct.ID, "bob", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status=%d want=404", rec.Code)
	}
}

func TestAIRoutes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/ai/generate-strategy", "alice", map[string]any{
		"goal": "steady income", "timeframe": "1d", "riskTolerance": "low",
	})
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if rec.Code != http.StatusOK || out["success"] != true || out["strategy"] != "Strategy Name: Dip Buyer" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/ai/analyze-market", "alice", map[string]any{"symbol": "AAPL"})
	out = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if rec.Code != http.StatusOK || out["analysis"] != "range bound" || out["symbol"] != "AAPL" || out["period"] != "1 week" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/ai/generate-strategy", "alice", map[string]any{"goal": "x", "timeframe": "7m", "riskTolerance": "low"})
	out = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if rec.Code != http.StatusBadRequest || out["success"] != false {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/ai/strategies", "alice", map[string]any{
		"goal": "steady income", "timeframe": "1d", "riskTolerance": "low", "max_amount": 300,
	})
	var item models.Strategy
	decode(t, rec, &item)
	if rec.Code != http.StatusCreated || item.Name != "AI Strategy - steady income" || item.MaxAmount.String() != "300" {
		t.Fatalf("status=%d item=%+v", rec.Code, item)
	}
}

func TestAIUpstreamFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.ai.err = errUpstream
	rec := env.do(t, http.MethodPost, "/api/v1/ai/generate-strategy", "alice", map[string]any{
		"goal": "income", "timeframe": "1d", "riskTolerance": "low",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want=502 body=%s", rec.Code, rec.Body.String())
	}
}
