package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("GROOMLY_TEST_STR", "value")
	if got := String("GROOMLY_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := String("GROOMLY_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	if _, err := RequiredString("GROOMLY_TEST_REQ_MISSING"); err == nil {
		t.Fatal("expected error for missing required var")
	}
	t.Setenv("GROOMLY_TEST_REQ", "x")
	v, err := RequiredString("GROOMLY_TEST_REQ")
	if err != nil || v != "x" {
		t.Fatalf("expected x, got %q (err %v)", v, err)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("GROOMLY_TEST_INT", "42")
	if got := Int("GROOMLY_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("GROOMLY_TEST_INT", "not-a-number")
	if got := Int("GROOMLY_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("GROOMLY_TEST_DUR", "90s")
	if got := Duration("GROOMLY_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	t.Setenv("GROOMLY_TEST_DUR", "-5s")
	if got := Duration("GROOMLY_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestPort(t *testing.T) {
	if _, err := Port("GROOMLY_TEST_PORT_MISSING", "99999"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	t.Setenv("GROOMLY_TEST_PORT", "8081")
	p, err := Port("GROOMLY_TEST_PORT", "8080")
	if err != nil || p != "8081" {
		t.Fatalf("expected 8081, got %q (err %v)", p, err)
	}
}
