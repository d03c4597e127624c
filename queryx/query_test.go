package queryx

import (
	"testing"
)

func titles(docs []*Document) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i], _ = doc.GetString("title")
	}
	return out
}

func sampleCatalogue() []*Document {
	return []*Document{
		testBook("Dune", "sci-fi", 18.0),
		testBook("1984", "dystopia", 10.0),
		testBook("Neuromancer", "sci-fi", 14.0),
		testBook("Brave New World", "dystopia", 10.0),
	}
}

func TestSortSpecMultiKey(t *testing.T) {
	docs := sampleCatalogue()
	SortSpec{Asc("price"), Asc("title")}.Sort(docs)

	want := []string{"1984", "Brave New World", "Neuromancer", "Dune"}
	got := titles(docs)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted titles = %v, want %v", got, want)
		}
	}
}

func TestSortSpecDescending(t *testing.T) {
	docs := sampleCatalogue()
	SortSpec{Desc("price")}.Sort(docs)

	if got, _ := docs[0].GetString("title"); got != "Dune" {
		t.Errorf("first = %q, want Dune", got)
	}
}

func TestSortMissingFieldsFirst(t *testing.T) {
	noPrice := NewDocument().Set("title", "Unpriced")
	docs := []*Document{testBook("Dune", "sci-fi", 18.0), noPrice}

	SortSpec{Asc("price")}.Sort(docs)
	if got, _ := docs[0].GetString("title"); got != "Unpriced" {
		t.Errorf("ascending: first = %q, want Unpriced", got)
	}

	SortSpec{Desc("price")}.Sort(docs)
	if got, _ := docs[len(docs)-1].GetString("title"); got != "Unpriced" {
		t.Errorf("descending: last = %q, want Unpriced", got)
	}
}

func TestSortIsStable(t *testing.T) {
	docs := []*Document{
		testBook("B", "x", 10.0),
		testBook("A", "x", 10.0),
	}
	SortSpec{Asc("price")}.Sort(docs)

	got := titles(docs)
	if got[0] != "B" || got[1] != "A" {
		t.Errorf("equal keys reordered: %v", got)
	}
}

func TestPageSlice(t *testing.T) {
	docs := sampleCatalogue() // 4 docs

	cases := []struct {
		name          string
		offset, limit int64
		wantLen       int
	}{
		{"window inside", 1, 2, 2},
		{"offset past end", 10, 2, 0},
		{"limit past end", 3, 10, 1},
		{"zero limit means no cap", 1, 0, 3},
		{"full window arithmetic", 2, 5, 2}, // min(5, max(0, 4-2))
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Page{Offset: tc.offset, Limit: tc.limit}.Slice(docs)
			if len(got) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(got), tc.wantLen)
			}
		})
	}
}

func TestPageValidate(t *testing.T) {
	if err := (Page{Offset: -1}).Validate(); err == nil || !IsMalformedRequest(err) {
		t.Errorf("negative offset: %v", err)
	}
	if err := (Page{Limit: -1}).Validate(); err == nil || !IsMalformedRequest(err) {
		t.Errorf("negative limit: %v", err)
	}
	if err := (Page{Offset: 0, Limit: 0}).Validate(); err != nil {
		t.Errorf("zero page should be valid: %s", err)
	}
}

func TestProjectionInclude(t *testing.T) {
	doc := NewDocument().
		Set("_id", "b1").
		Set("title", "Dune").
		Set("genre", "sci-fi").
		Set("price", 18.0)

	got := Include("title", "price").Apply(doc)

	if !got.Has("_id") {
		t.Error("_id should be kept by default")
	}
	if !got.Has("title") || !got.Has("price") {
		t.Error("included fields missing")
	}
	if got.Has("genre") {
		t.Error("genre should have been projected away")
	}
}

func TestProjectionWithoutID(t *testing.T) {
	doc := NewDocument().Set("_id", "b1").Set("title", "Dune")
	got := Include("title").WithoutID().Apply(doc)
	if got.Has("_id") {
		t.Error("_id should have been dropped")
	}
}

func TestProjectionExclude(t *testing.T) {
	doc := NewDocument().
		Set("_id", "b1").
		Set("title", "Dune").
		Set("genre", "sci-fi")

	got := Exclude("genre").Apply(doc)
	if got.Has("genre") {
		t.Error("excluded field still present")
	}
	if !got.Has("title") || !got.Has("_id") {
		t.Error("non-excluded fields should survive")
	}
}

func TestProjectionRejectsMixedMode(t *testing.T) {
	p := Projection{}
	p = Include("title")
	p.exclude = []string{"genre"}
	if err := p.Validate(); err == nil || !IsMalformedRequest(err) {
		t.Errorf("mixed include/exclude: %v", err)
	}
}

func TestBuildFindOptionsValidates(t *testing.T) {
	_, err := BuildFindOptions(WithPage(-1, 5))
	if err == nil || !IsMalformedRequest(err) {
		t.Errorf("bad page: %v", err)
	}

	_, err = BuildFindOptions(WithSort(SortKey{Field: ""}))
	if err == nil || !IsMalformedRequest(err) {
		t.Errorf("bad sort: %v", err)
	}

	opts, err := BuildFindOptions(
		WithSort(Desc("price")),
		WithPage(0, 2),
		WithProjection(Include("title")),
		WithBatchSize(10),
	)
	if err != nil {
		t.Fatalf("valid options: %s", err)
	}
	if opts.BatchSize != 10 || opts.Page == nil || len(opts.Sort) != 1 || opts.Projection == nil {
		t.Errorf("options not resolved: %+v", opts)
	}
}

func TestApplyLocalOrderOfOperations(t *testing.T) {
	opts, err := BuildFindOptions(
		WithSort(Asc("price"), Asc("title")),
		WithPage(1, 2),
		WithProjection(Include("title").WithoutID()),
	)
	if err != nil {
		t.Fatalf("BuildFindOptions: %s", err)
	}

	got := opts.ApplyLocal(sampleCatalogue())

	// Sorted: 1984, Brave New World, Neuromancer, Dune. Window [1, 3).
	want := []string{"Brave New World", "Neuromancer"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		title, _ := got[i].GetString("title")
		if title != want[i] {
			t.Errorf("doc[%d] = %q, want %q", i, title, want[i])
		}
		if got[i].Has("price") {
			t.Error("projection should have removed price")
		}
	}
}
