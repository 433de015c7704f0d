package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/universe"
	"github.com/google/go-cmp/cmp"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func timePtr(t time.Time) *time.Time {
	return &t
}

func newTestPlanner(t *testing.T, loc *time.Location) *Planner {
	t.Helper()
	p, err := NewPlanner(loc)
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	p.Now = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }
	return p
}

func newStore(username string, items ...catalog.Item) *collection.Store {
	s := collection.New(collection.DefaultConfig())
	s.BeginSession(username)
	s.AddItems(items)
	return s
}

func film(id int64, title, director string, viewer catalog.ViewerState) catalog.Item {
	it := catalog.Item{
		ID:          id,
		CategoryID:  universe.Films,
		Title:       title,
		DateRelease: strPtr("1995-09-22"),
		Viewer:      viewer,
	}
	if director != "" {
		it.Creators = []catalog.Creator{{Role: universe.RoleDirectors, Name: director}}
	}
	return it
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Se7en, #1", "Se7en 1"},
		{"[REC]", "REC"},
		{"AC/DC \\ Live", "ACDC  Live"},
		{"<{Brazil}>", "Brazil>"},
		{"Amélie", "Amélie"},
		{"#,[]", ""},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDateField_LocalisesBeforeTruncating(t *testing.T) {
	watched := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		loc  *time.Location
		want string
	}{
		{"utc+1", time.FixedZone("UTC+1", 3600), "2024-01-02"},
		{"utc", time.UTC, "2024-01-01"},
		{"default zone", nil, "2024-01-02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(t, tt.loc)
			if got := p.dateField(&watched); got != tt.want {
				t.Errorf("dateField() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlanAllExports_FilmsAndBook(t *testing.T) {
	done := catalog.ViewerState{IsCompleted: true}
	store := newStore("alice",
		film(1, "Se7en", "David Fincher", done),
		film(2, "Heat", "Michael Mann", done),
		catalog.Item{ID: 3, CategoryID: universe.Books, Title: "Dune",
			Creators: []catalog.Creator{{Role: universe.RoleAuthors, Name: "Frank Herbert"}},
			Viewer:   catalog.ViewerState{IsWishlisted: true}},
	)

	if n := len(store.Snapshot().ItemsByCategory); n != 2 {
		t.Fatalf("categories = %d, want 2", n)
	}

	p := newTestPlanner(t, time.UTC)
	plan, err := p.PlanAllExports(store, store.Availability())
	if err != nil {
		t.Fatalf("PlanAllExports() error = %v", err)
	}

	if plan.JobCount != 2 || plan.TotalItems != 3 {
		t.Fatalf("plan = %d jobs, %d items", plan.JobCount, plan.TotalItems)
	}

	diary := plan.Jobs[0]
	if diary.Category.ID != universe.Films || diary.Kind != Diary || len(diary.Rows) != 3 {
		t.Errorf("first job = %s %s with %d rows", diary.Category.Label, diary.Kind, len(diary.Rows))
	}
	if diff := cmp.Diff([]string{"Title", "Year", "Directors", "Rating10", "WatchedDate"}, diary.Rows[0]); diff != "" {
		t.Errorf("diary header (-want +got):\n%s", diff)
	}

	wish := plan.Jobs[1]
	if wish.Category.ID != universe.Books || wish.Kind != Wishlist || len(wish.Rows) != 2 {
		t.Errorf("second job = %s %s with %d rows", wish.Category.Label, wish.Kind, len(wish.Rows))
	}
	if diff := cmp.Diff([][]string{{"Title", "Year", "Authors"}, {"Dune", "", "Frank Herbert"}}, wish.Rows); diff != "" {
		t.Errorf("wishlist rows (-want +got):\n%s", diff)
	}

	if diary.Filename != "2024.3.5 Export SensCritique de alice - Films vus.csv" {
		t.Errorf("diary filename = %q", diary.Filename)
	}
	if wish.Filename != "2024.3.5 Export SensCritique de alice - Livres watchlist.csv" {
		t.Errorf("wishlist filename = %q", wish.Filename)
	}
}

func TestPlanCategoryExport_NoData(t *testing.T) {
	store := newStore("alice", film(1, "Heat", "Michael Mann", catalog.ViewerState{IsCompleted: true}))
	p := newTestPlanner(t, time.UTC)

	if _, err := p.PlanCategoryExport(store, universe.Films, Wishlist); !errors.Is(err, ErrNoDataToExport) {
		t.Errorf("film wishlist error = %v, want ErrNoDataToExport", err)
	}
	if _, err := p.PlanCategoryExport(store, universe.Games, Diary); !errors.Is(err, ErrNoDataToExport) {
		t.Errorf("unknown category error = %v, want ErrNoDataToExport", err)
	}

	empty := newStore("alice")
	if _, err := p.PlanAllExports(empty, empty.Availability()); !errors.Is(err, ErrNoDataToExport) {
		t.Errorf("empty plan error = %v, want ErrNoDataToExport", err)
	}
}

func TestPlan_RowCountMatchesPredicate(t *testing.T) {
	var items []catalog.Item
	for i := 0; i < 40; i++ {
		items = append(items, catalog.Item{
			ID:         int64(i),
			CategoryID: universe.Films + i%4,
			Title:      "t",
			Viewer: catalog.ViewerState{
				IsCompleted:  i%3 == 0,
				IsWishlisted: i%5 == 0,
			},
		})
	}
	store := newStore("alice", items...)
	p := newTestPlanner(t, time.UTC)

	for _, avail := range store.Availability() {
		for _, kind := range Kinds {
			want := 0
			for _, it := range store.ItemsIn(avail.CategoryID) {
				if kind.Matches(it) {
					want++
				}
			}
			job, err := p.PlanCategoryExport(store, avail.CategoryID, kind)
			if want == 0 {
				if !errors.Is(err, ErrNoDataToExport) {
					t.Errorf("%s %s: error = %v, want ErrNoDataToExport", avail.Label, kind, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("%s %s: %v", avail.Label, kind, err)
			}
			if job.ItemCount() != want {
				t.Errorf("%s %s: %d rows, want %d", avail.Label, kind, job.ItemCount(), want)
			}
		}
	}
}

func TestRow_Fields(t *testing.T) {
	p := newTestPlanner(t, time.FixedZone("UTC+1", 3600))

	tests := []struct {
		name string
		item catalog.Item
		kind Kind
		want []string
	}{
		{
			name: "full diary row",
			item: catalog.Item{
				CategoryID: universe.Films, Title: "Se7en, #1", DateRelease: strPtr("1995-09-22"),
				Creators: []catalog.Creator{{Name: "David Fincher"}, {Name: "Someone Else"}},
				Viewer: catalog.ViewerState{
					IsCompleted: true, Rating: floatPtr(8.7),
					WatchedAt: timePtr(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)),
				},
			},
			kind: Diary,
			want: []string{"Se7en 1", "1995", "David Fincher", "8", "2024-01-02"},
		},
		{
			name: "missing optional fields degrade to empty",
			item: catalog.Item{CategoryID: universe.Films, Title: "Untitled", Viewer: catalog.ViewerState{IsCompleted: true}},
			kind: Diary,
			want: []string{"Untitled", "", "", "", ""},
		},
		{
			name: "blank after sanitising is kept",
			item: catalog.Item{CategoryID: universe.Films, Title: "#[]", Viewer: catalog.ViewerState{IsWishlisted: true}},
			kind: Wishlist,
			want: []string{"", "", ""},
		},
		{
			name: "unparseable year",
			item: catalog.Item{CategoryID: universe.Films, Title: "X", DateRelease: strPtr("19xx-01-01")},
			kind: Wishlist,
			want: []string{"X", "", ""},
		},
		{
			name: "original title preferred",
			item: catalog.Item{CategoryID: universe.Films, Title: "Le Cercle rouge", OriginalTitle: strPtr("Le Cercle Rouge / Red Circle")},
			kind: Wishlist,
			want: []string{"Le Cercle Rouge  Red Circle", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, p.row(tt.item, tt.kind)); diff != "" {
				t.Errorf("row (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("watched"); err == nil {
		t.Error("ParseKind(watched) should fail")
	}
}

func TestWriteJobs(t *testing.T) {
	done := catalog.ViewerState{IsCompleted: true, IsWishlisted: true, Rating: floatPtr(7)}
	store := newStore("alice",
		film(1, "Heat", "Michael Mann", done),
		film(2, "Ran, \"the\" film", "Akira Kurosawa", done),
	)
	p := newTestPlanner(t, time.UTC)
	plan, err := p.PlanAllExports(store, store.Availability())
	if err != nil {
		t.Fatalf("PlanAllExports() error = %v", err)
	}

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteJobs(context.Background(), dir, plan.Jobs, 2)
	if err != nil {
		t.Fatalf("WriteJobs() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}

	for i, path := range paths {
		if filepath.Base(path) != plan.Jobs[i].Filename {
			t.Errorf("path[%d] = %q, want %q", i, filepath.Base(path), plan.Jobs[i].Filename)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			t.Fatalf("read back %s: %v", path, err)
		}
		if diff := cmp.Diff(plan.Jobs[i].Rows, rows); diff != "" {
			t.Errorf("%s round trip (-want +got):\n%s", path, diff)
		}
	}
}

func TestWriteJobs_NoJobs(t *testing.T) {
	if _, err := WriteJobs(context.Background(), t.TempDir(), nil, 1); !errors.Is(err, ErrNoDataToExport) {
		t.Errorf("WriteJobs(nil) error = %v", err)
	}
}

func TestSafeFilename(t *testing.T) {
	if got := safeFilename("2024.1.1 Export SensCritique de a/b - Films vus.csv"); got != "2024.1.1 Export SensCritique de a_b - Films vus.csv" {
		t.Errorf("safeFilename() = %q", got)
	}
}
