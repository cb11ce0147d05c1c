package ingesterr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("PDF parsing failed: bad header")
	cases := []struct {
		name      string
		err       error
		kind      Kind
		permanent bool
	}{
		{"plain", errors.New("dial tcp: timeout"), KindTransient, false},
		{"content", Content(base), KindContent, true},
		{"wrapped content", fmt.Errorf("extract: %w", Content(base)), KindContent, true},
		{"not found", NotFoundf("data source %s not found", "x"), KindNotFound, true},
		{"conflict", Conflictf("busy"), KindConflict, true},
		{"ctx canceled", fmt.Errorf("embed: %w", context.Canceled), KindCancelled, true},
		{"deadline", context.DeadlineExceeded, KindTransient, false},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("%s: expected kind %s got %s", tc.name, tc.kind, got)
		}
		if got := IsPermanent(tc.err); got != tc.permanent {
			t.Fatalf("%s: expected permanent=%v got %v", tc.name, tc.permanent, got)
		}
	}
	if IsPermanent(nil) {
		t.Fatalf("nil must not be permanent")
	}
}

func TestErrorMessageIsUnwrapped(t *testing.T) {
	err := Content(errors.New("JSON parsing failed: unexpected end of JSON input"))
	if err.Error() != "JSON parsing failed: unexpected end of JSON input" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Content(nil) != nil {
		t.Fatalf("Content(nil) should be nil")
	}
}
