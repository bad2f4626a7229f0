package candidates

import (
	"context"
	"reflect"
	"testing"
	"time"

	"scout/internal/core"
	"scout/internal/persistence"
)

var windowStart = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
var windowEnd = time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)

func ts(minutes int) time.Time { return windowStart.Add(time.Duration(minutes) * time.Minute) }

func newTestDB() *persistence.MemoryDB {
	db := persistence.NewMemoryDB()
	db.SourcesByID["s1"] = core.Source{ID: "s1", TopicID: "t1", Name: "hn", Type: "forum", Weight: 1, Enabled: true}
	return db
}

func addItem(db *persistence.MemoryDB, it persistence.WindowItem) {
	if it.SourceID == "" {
		it.SourceID = "s1"
	}
	db.Items = append(db.Items, it)
}

func TestQuery_ClusterCollapsesToOneRow(t *testing.T) {
	db := newTestDB()
	// A 3-item cluster with representative R, plus one unclustered item.
	addItem(db, persistence.WindowItem{ContentItemID: "r", ClusterID: "cl1", RepresentativeID: "r",
		Title: "Representative", BodyText: "body", FetchedAt: ts(10), Engagement: 5})
	addItem(db, persistence.WindowItem{ContentItemID: "m1", ClusterID: "cl1", RepresentativeID: "r",
		Title: "Member one", FetchedAt: ts(20), Engagement: 3})
	addItem(db, persistence.WindowItem{ContentItemID: "m2", ClusterID: "cl1", RepresentativeID: "r",
		Title: "Member two", FetchedAt: ts(30), Engagement: 2})
	addItem(db, persistence.WindowItem{ContentItemID: "i", Title: "Standalone", FetchedAt: ts(5)})

	rows, err := New(db.Candidates()).Query(context.Background(), "t1", windowStart, windowEnd, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected exactly 2 rows (one cluster, one item), got %d", len(rows))
	}

	byID := make(map[string]core.CandidateRow)
	for _, r := range rows {
		byID[r.CandidateID] = r
	}
	cluster, ok := byID["cl1"]
	if !ok {
		t.Fatal("expected a row keyed by the cluster ID")
	}
	if cluster.Kind != core.CandidateKindCluster {
		t.Errorf("expected cluster kind, got %q", cluster.Kind)
	}
	if cluster.Title != "Representative" || cluster.RepresentativeContentID != "r" {
		t.Errorf("cluster row must carry the representative's content, got %+v", cluster)
	}
	if !cluster.CandidateAt.Equal(ts(30)) {
		t.Errorf("cluster CandidateAt should be the newest member timestamp, got %v", cluster.CandidateAt)
	}
	if cluster.Engagement != 10 {
		t.Errorf("cluster engagement should sum members, got %v", cluster.Engagement)
	}
	if item, ok := byID["i"]; !ok || item.Kind != core.CandidateKindItem {
		t.Errorf("expected a standalone item row, got %+v", byID)
	}
}

func TestQuery_ClusterWithoutRepresentativeIsExcluded(t *testing.T) {
	db := newTestDB()
	addItem(db, persistence.WindowItem{ContentItemID: "m1", ClusterID: "cl1", Title: "Orphan", FetchedAt: ts(10)})
	addItem(db, persistence.WindowItem{ContentItemID: "m2", ClusterID: "cl1", Title: "Orphan too", FetchedAt: ts(20)})

	rows, err := New(db.Candidates()).Query(context.Background(), "t1", windowStart, windowEnd, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("a cluster with no representative must be excluded, got %d rows", len(rows))
	}
}

func TestQuery_TitledRowsSortFirstThenNewest(t *testing.T) {
	db := newTestDB()
	addItem(db, persistence.WindowItem{ContentItemID: "untitled-new", FetchedAt: ts(50)})
	addItem(db, persistence.WindowItem{ContentItemID: "old-titled", Title: "Old", FetchedAt: ts(10)})
	addItem(db, persistence.WindowItem{ContentItemID: "new-titled", Title: "New", FetchedAt: ts(40)})
	addItem(db, persistence.WindowItem{ContentItemID: "untitled-old", FetchedAt: ts(20)})

	rows, err := New(db.Candidates()).Query(context.Background(), "t1", windowStart, windowEnd, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	var order []string
	for _, r := range rows {
		order = append(order, r.CandidateID)
	}
	expected := []string{"new-titled", "old-titled", "untitled-new", "untitled-old"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("expected order %v, got %v", expected, order)
	}
}

func TestQuery_TruncatesToLimit(t *testing.T) {
	db := newTestDB()
	for i := 0; i < 5; i++ {
		addItem(db, persistence.WindowItem{ContentItemID: string(rune('a' + i)), Title: "t", FetchedAt: ts(i)})
	}

	rows, err := New(db.Candidates()).Query(context.Background(), "t1", windowStart, windowEnd, 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows after truncation, got %d", len(rows))
	}
}

func TestQuery_WindowMembershipIsHalfOpen(t *testing.T) {
	db := newTestDB()
	addItem(db, persistence.WindowItem{ContentItemID: "at-start", Title: "a", FetchedAt: windowStart})
	addItem(db, persistence.WindowItem{ContentItemID: "at-end", Title: "b", FetchedAt: windowEnd})
	published := windowStart.Add(time.Hour)
	addItem(db, persistence.WindowItem{ContentItemID: "published", Title: "c",
		PublishedAt: &published, FetchedAt: windowEnd.Add(time.Hour)})

	rows, err := New(db.Candidates()).Query(context.Background(), "t1", windowStart, windowEnd, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	ids := make(map[string]bool)
	for _, r := range rows {
		ids[r.CandidateID] = true
	}
	if !ids["at-start"] {
		t.Error("the window lower edge is inclusive")
	}
	if ids["at-end"] {
		t.Error("the window upper edge is exclusive")
	}
	if !ids["published"] {
		t.Error("publishedAt takes precedence over fetchedAt for membership")
	}
}

func TestQuery_Idempotent(t *testing.T) {
	db := newTestDB()
	addItem(db, persistence.WindowItem{ContentItemID: "a", Title: "one", FetchedAt: ts(10)})
	addItem(db, persistence.WindowItem{ContentItemID: "b", ClusterID: "cl", RepresentativeID: "b", Title: "two", FetchedAt: ts(20)})

	agg := New(db.Candidates())
	first, err := agg.Query(context.Background(), "t1", windowStart, windowEnd, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	second, err := agg.Query(context.Background(), "t1", windowStart, windowEnd, 50)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated queries over unchanged data must return the same rows")
	}
}

func TestQuery_RejectsInvertedWindow(t *testing.T) {
	db := newTestDB()
	_, err := New(db.Candidates()).Query(context.Background(), "t1", windowEnd, windowStart, 50)
	if core.KindOf(err) != core.ErrKindValidation {
		t.Errorf("expected validation error for an inverted window, got %v", err)
	}
}
