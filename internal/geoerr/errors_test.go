package geoerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Domainf("align.Frame", "extent is empty")
	wrapped := fmt.Errorf("task dem_aligned: %w", base)

	if !errors.Is(wrapped, ErrDomain) {
		t.Fatalf("expected ErrDomain through wrapping, got %v", wrapped)
	}
	if errors.Is(wrapped, ErrInput) {
		t.Fatalf("did not expect ErrInput")
	}
	if Kind(wrapped) != ErrDomain {
		t.Fatalf("Kind = %v", Kind(wrapped))
	}
	if !IsFatal(wrapped) {
		t.Fatalf("expected fatal")
	}
}

func TestIOKeepsCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := IO("raster.Open", "/tmp/dem.nc", cause)
	if !errors.Is(err, ErrIO) || !errors.Is(err, cause) {
		t.Fatalf("expected both kind and cause, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"raster.Open", "/tmp/dem.nc", "permission denied"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestWarningFuncNil(t *testing.T) {
	var f WarningFunc
	f.Emit(Warning{Op: "x"}) // must not panic

	var got []Warning
	f = func(w Warning) { got = append(got, w) }
	f.Emit(Warning{Op: "rastercalc.Map", Detail: "non-finite result", Count: 3})
	if len(got) != 1 || got[0].Count != 3 {
		t.Fatalf("unexpected warnings: %+v", got)
	}
	if s := got[0].String(); !strings.Contains(s, "x3") {
		t.Fatalf("unexpected string %q", s)
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	in := Inputf("table.ParseLookup", "t.csv", "duplicate key")
	if got := Wrap(ErrInvariant, "rastercalc.Map", in); got != in {
		t.Fatalf("Wrap replaced a classified error: %v", got)
	}
	plain := errors.New("boom")
	got := Wrap(ErrInvariant, "rastercalc.Map", plain)
	if !errors.Is(got, ErrInvariant) || !errors.Is(got, plain) {
		t.Fatalf("Wrap lost kind or cause: %v", got)
	}
	if Wrap(ErrIO, "x", nil) != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}
}
