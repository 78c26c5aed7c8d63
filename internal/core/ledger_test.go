package core

import (
	"path/filepath"
	"testing"
)

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	if _, ok, err := l.Lookup("a.nc"); err != nil || ok {
		t.Fatalf("empty ledger lookup: ok=%v err=%v", ok, err)
	}
	if err := l.Record("task-a", "fp-1", []string{"a.nc", "b.nc"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e, ok, err := l.Lookup("b.nc")
	if err != nil || !ok {
		t.Fatalf("Lookup after Record: ok=%v err=%v", ok, err)
	}
	if e.Task != "task-a" || e.Fingerprint != "fp-1" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if err := l.Record("task-a", "fp-2", []string{"a.nc"}); err != nil {
		t.Fatalf("Record overwrite: %v", err)
	}
	if e, _, _ := l.Lookup("a.nc"); e.Fingerprint != "fp-2" {
		t.Fatalf("overwrite lost: %+v", e)
	}
	if err := l.Forget([]string{"a.nc"}); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok, _ := l.Lookup("a.nc"); ok {
		t.Fatalf("forgotten entry still present")
	}
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryLedger())
}

func TestFileLedger_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "ledger.json")
	l, err := OpenFileLedger(path)
	if err != nil {
		t.Fatalf("OpenFileLedger: %v", err)
	}
	exerciseLedger(t, l)

	reopened, err := OpenFileLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e, ok, _ := reopened.Lookup("b.nc")
	if !ok || e.Fingerprint != "fp-1" {
		t.Fatalf("entry not persisted: ok=%v %+v", ok, e)
	}
	if got := reopened.Paths(); len(got) != 1 || got[0] != "b.nc" {
		t.Fatalf("unexpected paths %v", got)
	}
}

func TestSQLiteLedger_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenSQLiteLedger(path)
	if err != nil {
		t.Fatalf("OpenSQLiteLedger: %v", err)
	}
	exerciseLedger(t, l)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLiteLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	e, ok, err := reopened.Lookup("b.nc")
	if err != nil || !ok || e.Fingerprint != "fp-1" {
		t.Fatalf("entry not persisted: ok=%v err=%v %+v", ok, err, e)
	}
}
