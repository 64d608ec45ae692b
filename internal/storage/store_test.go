package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, 42, []byte(`{"id":42,"progress":-1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, 42, []byte(`{"id":42,"progress":0}`)); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"id":42,"progress":0}` {
		t.Errorf("Expected latest document, got %s", got)
	}

	if err := s.Put(ctx, 7, []byte(`{}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 7 || ids[1] != 42 {
		t.Errorf("Expected [7 42], got %v", ids)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := s.Put(ctx, 1, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, 1); err != nil {
		t.Errorf("Expected record after reopen, got %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: "postgres"}
	if got := pg.rebind("SELECT ? WHERE a = ?"); got != "SELECT $1 WHERE a = $2" {
		t.Errorf("Unexpected postgres query %q", got)
	}
	lite := &Store{dialect: "sqlite3"}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("Unexpected sqlite query %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", ""); err == nil {
		t.Error("Expected error for unknown driver")
	}
}
