package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Validation:            "VALIDATION_ERROR",
		BusinessRule:          "BUSINESS_RULE_ERROR",
		Authorization:         "AUTHORIZATION_ERROR",
		Integrity:             "INTEGRITY_VIOLATION",
		SerializationConflict: "SERIALIZATION_CONFLICT",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	base := Authorizationf("active role %s revoked", "Investigator")
	wrapped := fmt.Errorf("append rejected: %w", base)

	if !IsKind(wrapped, Authorization) {
		t.Error("IsKind should see through fmt.Errorf wrapping")
	}
	if IsKind(wrapped, Validation) {
		t.Error("IsKind matched the wrong kind")
	}
	if IsKind(errors.New("plain"), Authorization) {
		t.Error("IsKind matched a plain error")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := Wrap(SerializationConflict, "chain write collided", cause)

	if !errors.Is(err, cause) {
		t.Error("Unwrap chain lost the cause")
	}
	kind, ok := KindOf(err)
	if !ok || kind != SerializationConflict {
		t.Errorf("KindOf = (%v, %v), want (SerializationConflict, true)", kind, ok)
	}
}

func TestRetrySerialization(t *testing.T) {
	t.Run("retries conflicts until success", func(t *testing.T) {
		calls := 0
		err := RetrySerialization(context.Background(), 5, func() error {
			calls++
			if calls < 3 {
				return New(SerializationConflict, "collision")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("fn called %d times, want 3", calls)
		}
	})

	t.Run("does not retry other kinds", func(t *testing.T) {
		calls := 0
		err := RetrySerialization(context.Background(), 5, func() error {
			calls++
			return New(Validation, "missing reason")
		})
		if !IsKind(err, Validation) {
			t.Fatalf("want validation fault, got %v", err)
		}
		if calls != 1 {
			t.Errorf("fn called %d times, want 1", calls)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := RetrySerialization(context.Background(), 3, func() error {
			calls++
			return New(SerializationConflict, "collision")
		})
		if !IsKind(err, SerializationConflict) {
			t.Fatalf("want serialization fault, got %v", err)
		}
		if calls != 3 {
			t.Errorf("fn called %d times, want 3", calls)
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetrySerialization(ctx, 3, func() error {
			t.Fatal("fn should not run after cancellation")
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("want context.Canceled, got %v", err)
		}
	})
}
