package db

import (
	"context"
	"database/sql"
	"testing"

	"oppsync/internal/mounts"
)

// setupTestDB sets up an in-memory test database connection.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	sqlFS, err := mounts.NewFileMount("sql", SQLEmbeddedFS, "")
	if err != nil {
		t.Fatalf("could not mount sql fs: %v", err)
	}

	testDB, err := NewConnection("file::memory:?cache=shared", sqlFS)
	if err != nil {
		t.Fatalf("in-memory test database opening error: %v", err)
	}
	if err := testDB.InitSchema(sqlFS, "schema.sql"); err != nil {
		t.Fatalf("schema initialization error: %v", err)
	}

	t.Cleanup(func() {
		if err := testDB.Close(); err != nil {
			t.Fatalf("unexpected db close error: %v", err)
		}
	})
	return testDB
}

func TestNewConnectionInMemoryNeedsSharedCache(t *testing.T) {
	_, err := NewConnection("file::memory:", nil)
	if err == nil {
		t.Fatal("expected error for in-memory connection without cache=shared")
	}
}

func TestMappingPutAndGet(t *testing.T) {

	testDB := setupTestDB(t)
	ctx := context.Background()

	// No mapping stored yet.
	_, err := testDB.GetProject(ctx, "OPP-1")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	// First write wins.
	winner, inserted, err := testDB.PutProject(ctx, "OPP-1", "PROJ-100")
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if !inserted {
		t.Error("expected first put to insert")
	}
	if got, want := winner, "PROJ-100"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	// A second write for the same opportunity loses the compare-and-set
	// and reads back the winning project.
	winner, inserted, err = testDB.PutProject(ctx, "OPP-1", "PROJ-200")
	if err != nil {
		t.Fatalf("second put error: %v", err)
	}
	if inserted {
		t.Error("expected second put not to insert")
	}
	if got, want := winner, "PROJ-100"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	// Lookup resolves to the winner.
	projectID, err := testDB.GetProject(ctx, "OPP-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got, want := projectID, "PROJ-100"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestMappingsGet(t *testing.T) {

	testDB := setupTestDB(t)
	ctx := context.Background()

	if _, err := testDB.MappingsGet(ctx, 10); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows for empty mappings, got %v", err)
	}

	for _, m := range []Mapping{
		{OpportunityID: "OPP-1", ProjectID: "PROJ-100"},
		{OpportunityID: "OPP-2", ProjectID: "PROJ-200"},
		{OpportunityID: "OPP-3", ProjectID: "PROJ-300"},
	} {
		if _, _, err := testDB.PutProject(ctx, m.OpportunityID, m.ProjectID); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	mappings, err := testDB.MappingsGet(ctx, 2)
	if err != nil {
		t.Fatalf("mappings get error: %v", err)
	}
	if got, want := len(mappings), 2; got != want {
		t.Errorf("got %d mappings want %d", got, want)
	}
	for _, m := range mappings {
		if m.CreatedAt == "" {
			t.Errorf("mapping %s has no created_at", m.OpportunityID)
		}
	}
}

func TestDeliveries(t *testing.T) {

	testDB := setupTestDB(t)
	ctx := context.Background()

	if _, err := testDB.DeliveriesGet(ctx, 10); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows for empty deliveries, got %v", err)
	}

	deliveries := []Delivery{
		{Entity: "Opportunity", Action: "created", OpportunityID: "OPP-1", Outcome: OutcomeCreated},
		{Entity: "Opportunity", Action: "updated", OpportunityID: "OPP-1", Outcome: OutcomeUpdated},
		{Entity: "Contact", Action: "created", Outcome: OutcomeIgnored, Detail: "unrecognized entity"},
	}
	for _, d := range deliveries {
		if err := testDB.DeliveryInsert(ctx, d); err != nil {
			t.Fatalf("delivery insert error: %v", err)
		}
	}

	got, err := testDB.DeliveriesGet(ctx, 10)
	if err != nil {
		t.Fatalf("deliveries get error: %v", err)
	}
	if gotLen, want := len(got), 3; gotLen != want {
		t.Fatalf("got %d deliveries want %d", gotLen, want)
	}

	// Newest first.
	if gotOutcome, want := got[0].Outcome, OutcomeIgnored; gotOutcome != want {
		t.Errorf("got %q want %q", gotOutcome, want)
	}
	if got[0].ReceivedAt == "" {
		t.Error("delivery has no received_at")
	}
}
