package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{errors.New("plain"), KindInternal},
		{Validation("name", "name is required"), KindValidation},
		{fmt.Errorf("wrapped: %w", NotFound("strategy not found")), KindNotFound},
		{Persistence("strategy.insert", cause), KindPersistence},
		{Upstream("ai.draft", "completion failed", cause), KindUpstream},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v)=%q want=%q", tc.err, got, tc.want)
		}
	}
}

func TestUnwrapAndIs(t *testing.T) {
	cause := errors.New("deadline")
	err := Upstream("ai.draft", "completion failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if !errors.Is(fmt.Errorf("x: %w", err), New(KindUpstream)) {
		t.Fatalf("expected kind match")
	}
	if errors.Is(err, New(KindNotFound)) {
		t.Fatalf("unexpected kind match")
	}
}

func TestErrorString(t *testing.T) {
	err := Persistence("strategy.insert", errors.New("boom"))
	if got := err.Error(); got != "strategy.insert: persistence: boom" {
		t.Fatalf("Error()=%q", got)
	}
	v := Validation("timeframe", "  timeframe is invalid ")
	if v.Error() != "validation: timeframe is invalid" || v.Field != "timeframe" {
		t.Fatalf("validation=%q field=%q", v.Error(), v.Field)
	}
}

func TestPublicHidesStorageDetail(t *testing.T) {
	err := Persistence("strategy.insert", errors.New("pq: password authentication failed"))
	if got := Public(err); got != "storage unavailable" {
		t.Fatalf("Public=%q", got)
	}
	if got := Public(errors.New("raw")); got != "internal error" {
		t.Fatalf("Public=%q", got)
	}
	if got := Public(RateLimited("")); got != "rate limited" {
		t.Fatalf("Public=%q", got)
	}
	if got := Public(NotFound("strategy not found")); got != "strategy not found" {
		t.Fatalf("Public=%q", got)
	}
}
