package envutil

import (
	"testing"
	"time"
)

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("ENVUTIL_INT", "nope")
	t.Setenv("ENVUTIL_BOOL", "maybe")
	t.Setenv("ENVUTIL_DUR", "7")
	t.Setenv("ENVUTIL_STR", "  value ")

	if got := Int("ENVUTIL_INT", 3); got != 3 {
		t.Fatalf("Int: got=%d want=3", got)
	}
	if got := Bool("ENVUTIL_BOOL", true); !got {
		t.Fatalf("Bool: want default true")
	}
	if got := Duration("ENVUTIL_DUR", time.Second); got != 7*time.Second {
		t.Fatalf("Duration: got=%s want=7s", got)
	}
	if got := String("ENVUTIL_STR", "x"); got != "value" {
		t.Fatalf("String: got=%q", got)
	}
	if got := String("ENVUTIL_MISSING", "x"); got != "x" {
		t.Fatalf("String default: got=%q", got)
	}
}
