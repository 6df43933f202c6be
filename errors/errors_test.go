package errors

import (
	"strings"
	"testing"
)

func TestNewCarriesLocation(t *testing.T) {
	err := New("boom %d", 42)
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Fatalf("missing location prefix: %q", err)
	}
	if !strings.HasSuffix(err.Error(), "boom 42") {
		t.Fatalf("missing message: %q", err)
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ignored") != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}

	base := Sentinel("not found")
	err := Wrapf(base, "loading %s", "x")
	if !Is(err, base) {
		t.Fatal("wrapped error lost its sentinel")
	}
	if !strings.Contains(err.Error(), "loading x: not found") {
		t.Fatalf("unexpected message: %q", err)
	}
}
