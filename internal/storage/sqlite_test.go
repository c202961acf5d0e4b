package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) != 2 {
		t.Errorf("migrations = %v then %v, want 2 both times", v1, v2)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_history_seq", "idx_outbox_status_run_after"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found", idx)
		}
	}
}

func TestSaveHistory_MostRecentFirst(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.SaveHistory(HistoryItem{ID: id, Title: "Title " + id, ResearchType: "company", Status: "queued"}); err != nil {
			t.Fatalf("SaveHistory(%s): %v", id, err)
		}
	}

	items, err := s.ListHistory(0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	got := ids(items)
	want := []string{"t3", "t2", "t1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSaveHistory_UpsertMovesToFrontKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveHistory(HistoryItem{ID: "a", Title: "First", Status: "queued", CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveHistory(HistoryItem{ID: "b", Title: "Second", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveHistory(HistoryItem{ID: "a", Title: "Renamed", Status: "running", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "a" || items[0].Title != "Renamed" || items[0].Status != "running" {
		t.Errorf("front item = %+v, want upserted a", items[0])
	}
	if !items[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want original %v", items[0].CreatedAt, created)
	}
}

func TestSaveHistory_TrimsToLimit(t *testing.T) {
	s := openTestStore(t)
	s.SetHistoryLimit(3)

	for i := 0; i < 5; i++ {
		if err := s.SaveHistory(HistoryItem{ID: fmt.Sprintf("t%d", i), Status: "queued"}); err != nil {
			t.Fatal(err)
		}
	}

	items, err := s.ListHistory(0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fmt.Sprint(ids(items)), fmt.Sprint([]string{"t4", "t3", "t2"}); got != want {
		t.Errorf("kept %s, want %s", got, want)
	}
}

func TestSaveHistory_RequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveHistory(HistoryItem{Title: "no id"}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestUpdateHistoryStatus(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveHistory(HistoryItem{ID: "t1", Status: "queued"}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateHistoryStatus("t1", "completed"); err != nil {
		t.Fatalf("UpdateHistoryStatus: %v", err)
	}
	item, err := s.GetHistory("t1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if item.Status != "completed" {
		t.Errorf("Status = %q, want completed", item.Status)
	}

	if err := s.UpdateHistoryStatus("missing", "completed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateHistoryStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestGetHistory_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetHistory("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetHistory = %v, want ErrNotFound", err)
	}
}

func TestOutbox_ClaimCompleteFlow(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueDelivery(Delivery{ID: "d1", Kind: "cancel", TaskID: "t1"}); err != nil {
		t.Fatalf("EnqueueDelivery: %v", err)
	}

	d, err := s.ClaimNextDelivery([]string{"share"})
	if err != nil || d != nil {
		t.Fatalf("claim of other kind = (%v, %v), want (nil, nil)", d, err)
	}

	d, err = s.ClaimNextDelivery([]string{"cancel", "share"})
	if err != nil {
		t.Fatalf("ClaimNextDelivery: %v", err)
	}
	if d == nil || d.ID != "d1" || d.Status != DeliveryRunning || d.PayloadJSON != "{}" {
		t.Fatalf("claimed = %+v", d)
	}

	again, err := s.ClaimNextDelivery([]string{"cancel"})
	if err != nil || again != nil {
		t.Fatalf("second claim = (%v, %v), want nothing", again, err)
	}

	if err := s.CompleteDelivery("d1"); err != nil {
		t.Fatalf("CompleteDelivery: %v", err)
	}
	n, err := s.PendingDeliveries()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("PendingDeliveries = %d, want 0", n)
	}
}

func TestOutbox_FailBacksOffThenGivesUp(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueDelivery(Delivery{ID: "d1", Kind: "cancel", TaskID: "t1", MaxAttempts: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimNextDelivery([]string{"cancel"}); err != nil {
		t.Fatal(err)
	}

	if err := s.FailDelivery("d1", "boom"); err != nil {
		t.Fatalf("FailDelivery: %v", err)
	}
	d, err := s.GetDelivery("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != DeliveryPending || d.Attempts != 1 || d.LastError != "boom" {
		t.Errorf("after first failure = %+v", d)
	}
	if !d.RunAfter.After(time.Now().UTC()) {
		t.Errorf("RunAfter = %v, want in the future", d.RunAfter)
	}

	if err := s.FailDelivery("d1", "boom again"); err != nil {
		t.Fatal(err)
	}
	d, err = s.GetDelivery("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != DeliveryFailed || d.Attempts != 2 {
		t.Errorf("after final failure = %+v", d)
	}

	if err := s.FailDelivery("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailDelivery(missing) = %v, want ErrNotFound", err)
	}
}

func TestOpen_RequeuesInterruptedDeliveries(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.EnqueueDelivery(Delivery{ID: "d1", Kind: "cancel", TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if d, err := s1.ClaimNextDelivery([]string{"cancel"}); err != nil || d == nil {
		t.Fatalf("claim = (%v, %v)", d, err)
	}
	// The process dies before recording an outcome.
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	d, err := s2.GetDelivery("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != DeliveryPending || d.Attempts != 0 {
		t.Errorf("after reopen = %+v, want pending with no attempts", d)
	}
	claimed, err := s2.ClaimNextDelivery([]string{"cancel"})
	if err != nil || claimed == nil || claimed.ID != "d1" {
		t.Errorf("reclaim = (%v, %v), want d1", claimed, err)
	}
}

func TestOutbox_AbandonSkipsRemainingAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueDelivery(Delivery{ID: "d1", Kind: "cancel", TaskID: "t1", MaxAttempts: 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimNextDelivery([]string{"cancel"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AbandonDelivery("d1", "task not found"); err != nil {
		t.Fatalf("AbandonDelivery: %v", err)
	}
	d, err := s.GetDelivery("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != DeliveryFailed || d.Attempts != 1 || d.LastError != "task not found" {
		t.Errorf("abandoned = %+v", d)
	}
	if n, _ := s.PendingDeliveries(); n != 0 {
		t.Errorf("PendingDeliveries = %d, want 0", n)
	}
	if err := s.AbandonDelivery("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AbandonDelivery(missing) = %v, want ErrNotFound", err)
	}
}

func ids(items []HistoryItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
