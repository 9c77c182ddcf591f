package syncqueue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("COMMENTSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COMMENTSYNC_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, table string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("cleanup open failed: %v", err)
		return
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+postgresQuoteIdentifier(table)); err != nil {
		t.Logf("cleanup drop failed: %v", err)
	}
}

func TestPostgresIntegrationQueueRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.tableName = postgresIntegrationTableName("commentsync_queue_it")
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, store.tableName)
	})

	ops, err := store.LoadAll()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected empty queue, got %d operations", len(ops))
	}

	want := sampleOperations()
	if err := store.SaveAll(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d operations, got %d", len(want), len(got))
	}
	if got[0].ID != want[0].ID || got[0].Payload.Content != want[0].Payload.Content {
		t.Fatalf("round trip mismatch: %+v", got[0])
	}

	if err := store.SaveAll(nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	drained, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load drained: %v", err)
	}
	if len(drained) != 0 {
		t.Fatalf("expected drained queue, got %d operations", len(drained))
	}
}
