package sources

import (
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/botforge-backend/internal/domain/sources"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
)

func createSource(t *testing.T, repo DataSourceRepo, agentID uuid.UUID) *types.DataSource {
	t.Helper()
	cfg, err := types.EncodeConfig(types.TextConfig{Content: "Hello world."})
	if err != nil {
		t.Fatalf("EncodeConfig: %v", err)
	}
	ds, err := repo.Create(dbctx.Background(), &types.DataSource{
		AgentID: agentID,
		Type:    types.TypeText,
		Name:    "greeting",
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ds
}

func TestDataSourceProcessingGuard(t *testing.T) {
	db := testutil.DB(t)
	repo := NewDataSourceRepo(db, testutil.Logger(t))
	dbc := dbctx.Background()

	ds := createSource(t, repo, uuid.New())
	if ds.Status != types.StatusPending {
		t.Fatalf("Create: expected pending got %s", ds.Status)
	}

	jobA, jobB := uuid.New(), uuid.New()
	ok, err := repo.TryBeginProcessing(dbc, ds.ID, jobA)
	if err != nil || !ok {
		t.Fatalf("TryBeginProcessing(A): expected ok got %v err=%v", ok, err)
	}
	ok, err = repo.TryBeginProcessing(dbc, ds.ID, jobB)
	if err != nil || ok {
		t.Fatalf("TryBeginProcessing(B): expected rejection got %v err=%v", ok, err)
	}
	// The owner may re-enter after a reclaim.
	if ok, _ := repo.TryBeginProcessing(dbc, ds.ID, jobA); !ok {
		t.Fatalf("TryBeginProcessing(A again): expected ok")
	}

	// B cannot finish a source owned by A.
	if ok, _ := repo.MarkCompleted(dbc, ds.ID, jobB, 10, 1); ok {
		t.Fatalf("MarkCompleted(B): expected rejection")
	}
	if ok, _ := repo.MarkFailed(dbc, ds.ID, jobB, "boom"); ok {
		t.Fatalf("MarkFailed(B): expected rejection")
	}

	if ok, err := repo.TakeOverProcessing(dbc, ds.ID, jobA, jobB); err != nil || !ok {
		t.Fatalf("TakeOverProcessing: expected ok got %v err=%v", ok, err)
	}
	if ok, _ := repo.MarkCompleted(dbc, ds.ID, jobB, 12, 1); !ok {
		t.Fatalf("MarkCompleted(B): expected ok")
	}

	got, err := repo.GetByID(dbc, ds.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v", err)
	}
	if got.Status != types.StatusCompleted || got.CharCount == nil || *got.CharCount != 12 || got.ChunkCount == nil || *got.ChunkCount != 1 {
		t.Fatalf("completed state: unexpected %+v", got)
	}
	if got.ProcessingJobID != nil || got.ProcessedAt == nil {
		t.Fatalf("completed state: expected owner cleared and processed_at set")
	}
}

func TestDataSourceFailThenReprocess(t *testing.T) {
	db := testutil.DB(t)
	repo := NewDataSourceRepo(db, testutil.Logger(t))
	dbc := dbctx.Background()

	ds := createSource(t, repo, uuid.New())
	jobA := uuid.New()
	if ok, _ := repo.TryBeginProcessing(dbc, ds.ID, jobA); !ok {
		t.Fatalf("TryBeginProcessing: expected ok")
	}
	if ok, _ := repo.MarkFailed(dbc, ds.ID, jobA, "PDF parsing failed: bad header"); !ok {
		t.Fatalf("MarkFailed: expected ok")
	}
	got, _ := repo.GetByID(dbc, ds.ID)
	if got.Status != types.StatusFailed || got.ErrorMessage != "PDF parsing failed: bad header" {
		t.Fatalf("failed state: unexpected %s %q", got.Status, got.ErrorMessage)
	}

	if ok, _ := repo.TryBeginProcessing(dbc, ds.ID, uuid.New()); !ok {
		t.Fatalf("TryBeginProcessing after failure: expected ok")
	}
	got, _ = repo.GetByID(dbc, ds.ID)
	if got.ErrorMessage != "" {
		t.Fatalf("reprocess should clear error message, got %q", got.ErrorMessage)
	}
}

func TestDataSourceListAndDelete(t *testing.T) {
	db := testutil.DB(t)
	repo := NewDataSourceRepo(db, testutil.Logger(t))
	dbc := dbctx.Background()

	agentID := uuid.New()
	a := createSource(t, repo, agentID)
	createSource(t, repo, agentID)
	createSource(t, repo, uuid.New())

	list, err := repo.ListByAgent(dbc, agentID, 10, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByAgent: expected 2 got %d err=%v", len(list), err)
	}
	if err := repo.Delete(dbc, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := repo.GetByID(dbc, a.ID); got != nil {
		t.Fatalf("Delete: row still present")
	}
}
