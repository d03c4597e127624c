package queryxmemory

import (
	"context"
	"fmt"
	"testing"

	"github.com/Conversia-AI/craftable-queryx/queryx"
)

func seedCatalogue(t *testing.T, books *MemoryCollection) []string {
	t.Helper()
	ids, err := books.InsertMany(context.Background(), []*queryx.Document{
		book("1984", "dystopia", 10.0),
		book("Brave New World", "dystopia", 12.0),
		book("Fahrenheit 451", "dystopia", 11.0),
		book("Dune", "sci-fi", 18.0),
		book("Neuromancer", "sci-fi", 14.0),
		book("The Hobbit", "fantasy", 9.0),
	})
	if err != nil {
		t.Fatalf("seed: %s", err)
	}
	return ids
}

func book(title, genre string, price float64) *queryx.Document {
	return queryx.NewDocument().
		Set("title", title).
		Set("genre", genre).
		Set("price", price)
}

func allTitles(t *testing.T, cursor queryx.Cursor) []string {
	t.Helper()
	docs, err := cursor.All(context.Background())
	if err != nil {
		t.Fatalf("cursor: %s", err)
	}
	titles := make([]string, len(docs))
	for i, doc := range docs {
		titles[i], _ = doc.GetString("title")
	}
	return titles
}

func TestInsertAssignsIDs(t *testing.T) {
	ctx := context.Background()
	books := New()

	id, err := books.InsertOne(ctx, book("Dune", "sci-fi", 18.0))
	if err != nil {
		t.Fatalf("InsertOne: %s", err)
	}
	if id == "" {
		t.Fatal("InsertOne returned an empty _id")
	}

	doc, ok, err := books.FindOne(ctx, queryx.Eq("title", "Dune"))
	if err != nil || !ok {
		t.Fatalf("FindOne: ok=%v err=%v", ok, err)
	}
	if got, _ := doc.ID(); got != id {
		t.Errorf("stored _id = %q, want %q", got, id)
	}
}

func TestInsertKeepsCallerID(t *testing.T) {
	ctx := context.Background()
	books := New()

	id, err := books.InsertOne(ctx, queryx.NewDocument().
		Set(queryx.IDField, "custom-id").
		Set("title", "Dune"))
	if err != nil {
		t.Fatalf("InsertOne: %s", err)
	}
	if id != "custom-id" {
		t.Errorf("id = %q, want custom-id", id)
	}
}

func TestInsertDoesNotAliasCallerDocument(t *testing.T) {
	ctx := context.Background()
	books := New()

	original := book("Dune", "sci-fi", 18.0)
	if _, err := books.InsertOne(ctx, original); err != nil {
		t.Fatalf("InsertOne: %s", err)
	}
	original.Set("price", 0.0)

	doc, ok, _ := books.FindOne(ctx, queryx.Eq("title", "Dune"))
	if !ok {
		t.Fatal("document not found")
	}
	if price, _ := doc.GetFloat("price"); price != 18.0 {
		t.Errorf("stored price = %v, caller mutation leaked in", price)
	}
}

func TestFindConjunction(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	cursor, err := books.Find(ctx, queryx.And(
		queryx.Eq("genre", "dystopia"),
		queryx.Gt("price", 10),
	))
	if err != nil {
		t.Fatalf("Find: %s", err)
	}

	docs, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("cursor: %s", err)
	}
	if len(docs) != 2 {
		t.Fatalf("matches = %d, want 2", len(docs))
	}
	for _, doc := range docs {
		genre, _ := doc.GetString("genre")
		price, _ := doc.GetFloat("price")
		if genre != "dystopia" || price <= 10 {
			t.Errorf("non-matching document returned: genre=%q price=%v", genre, price)
		}
	}
}

func TestFindZeroMatchesIsSuccess(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	cursor, err := books.Find(ctx, queryx.Eq("genre", "biography"))
	if err != nil {
		t.Fatalf("Find: %s", err)
	}
	docs, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("cursor: %s", err)
	}
	if len(docs) != 0 {
		t.Errorf("docs = %d, want 0", len(docs))
	}

	if _, ok, err := books.FindOne(ctx, queryx.Eq("genre", "biography")); err != nil || ok {
		t.Errorf("FindOne zero match: ok=%v err=%v, want false, nil", ok, err)
	}
}

func TestFindRejectsMalformedFilter(t *testing.T) {
	ctx := context.Background()
	books := New()

	_, err := books.Find(ctx, queryx.Cond{Field: "x", Op: "$regex", Value: "y"})
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("Find with bad operator: %v", err)
	}

	_, err = books.Find(ctx, nil, queryx.WithPage(-1, 5))
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("Find with bad page: %v", err)
	}
}

func TestFindSortPageProjection(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	cursor, err := books.Find(ctx, nil,
		queryx.WithSort(queryx.Asc("price"), queryx.Asc("title")),
		queryx.WithPage(1, 3),
		queryx.WithProjection(queryx.Include("title").WithoutID()),
	)
	if err != nil {
		t.Fatalf("Find: %s", err)
	}

	// Prices ascending: 9, 10, 11, 12, 14, 18. Window [1, 4).
	want := []string{"1984", "Fahrenheit 451", "Brave New World"}
	got := allTitles(t, cursor)
	if len(got) != len(want) {
		t.Fatalf("titles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("titles[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFindWindowArithmetic(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books) // 6 documents

	cases := []struct {
		offset, limit int64
		want          int
	}{
		{0, 0, 6},
		{0, 4, 4},
		{4, 4, 2},  // min(4, 6-4)
		{10, 4, 0}, // offset past the end
		{6, 1, 0},
	}
	for _, tc := range cases {
		cursor, err := books.Find(ctx, nil, queryx.WithPage(tc.offset, tc.limit))
		if err != nil {
			t.Fatalf("Find(offset=%d, limit=%d): %s", tc.offset, tc.limit, err)
		}
		docs, err := cursor.All(ctx)
		if err != nil {
			t.Fatalf("cursor: %s", err)
		}
		if len(docs) != tc.want {
			t.Errorf("offset=%d limit=%d: len = %d, want %d", tc.offset, tc.limit, len(docs), tc.want)
		}
	}
}

func TestFindIsRestartable(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	filter := queryx.Eq("genre", "sci-fi")
	first, err := books.Find(ctx, filter)
	if err != nil {
		t.Fatalf("Find: %s", err)
	}
	if _, err := first.All(ctx); err != nil {
		t.Fatalf("first drain: %s", err)
	}

	second, err := books.Find(ctx, filter)
	if err != nil {
		t.Fatalf("re-Find: %s", err)
	}
	docs, err := second.All(ctx)
	if err != nil {
		t.Fatalf("second drain: %s", err)
	}
	if len(docs) != 2 {
		t.Errorf("re-run matches = %d, want 2", len(docs))
	}
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	n, err := books.Count(ctx, queryx.Eq("genre", "dystopia"))
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v; want 3, nil", n, err)
	}

	n, err = books.Count(ctx, queryx.Eq("genre", "biography"))
	if err != nil || n != 0 {
		t.Errorf("zero-match Count = %d, %v; want 0, nil", n, err)
	}

	n, err = books.Count(ctx, nil)
	if err != nil || n != 6 {
		t.Errorf("match-all Count = %d, %v; want 6, nil", n, err)
	}
}

func TestUpdateOne(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	res, err := books.UpdateOne(ctx, queryx.Eq("title", "1984"), map[string]any{"price": 15.0})
	if err != nil {
		t.Fatalf("UpdateOne: %s", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Errorf("result = %+v, want {1 1}", res)
	}

	doc, ok, _ := books.FindOne(ctx, queryx.Eq("title", "1984"))
	if !ok {
		t.Fatal("updated document vanished")
	}
	if price, _ := doc.GetFloat("price"); price != 15.0 {
		t.Errorf("price = %v, want 15", price)
	}
	if genre, _ := doc.GetString("genre"); genre != "dystopia" {
		t.Errorf("untouched field changed: genre = %q", genre)
	}
}

func TestUpdateOneIdempotentValue(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	res, err := books.UpdateOne(ctx, queryx.Eq("title", "1984"), map[string]any{"price": 10.0})
	if err != nil {
		t.Fatalf("UpdateOne: %s", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 0 {
		t.Errorf("no-op update result = %+v, want {1 0}", res)
	}
}

func TestUpdateOneZeroMatch(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	res, err := books.UpdateOne(ctx, queryx.Eq("title", "Missing"), map[string]any{"price": 1.0})
	if err != nil {
		t.Fatalf("UpdateOne: %s", err)
	}
	if res.MatchedCount != 0 || res.ModifiedCount != 0 {
		t.Errorf("result = %+v, want {0 0}", res)
	}

	if n, _ := books.Count(ctx, nil); n != 6 {
		t.Errorf("collection changed by a zero-match update: %d docs", n)
	}
}

func TestUpdateOneTouchesOnlyFirstMatch(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	res, err := books.UpdateOne(ctx, queryx.Eq("genre", "dystopia"), map[string]any{"featured": true})
	if err != nil {
		t.Fatalf("UpdateOne: %s", err)
	}
	if res.MatchedCount != 1 {
		t.Errorf("MatchedCount = %d, want 1", res.MatchedCount)
	}

	n, err := books.Count(ctx, queryx.Eq("featured", true))
	if err != nil || n != 1 {
		t.Errorf("featured count = %d, %v; want exactly 1", n, err)
	}

	// Insertion order decides which one.
	doc, ok, _ := books.FindOne(ctx, queryx.Eq("featured", true))
	if !ok {
		t.Fatal("featured document not found")
	}
	if title, _ := doc.GetString("title"); title != "1984" {
		t.Errorf("updated %q, want the first inserted match 1984", title)
	}
}

func TestUpdateOneRejectsIDChange(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	_, err := books.UpdateOne(ctx, queryx.Eq("title", "1984"), map[string]any{queryx.IDField: "new"})
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("_id change: %v, want MALFORMED_REQUEST", err)
	}

	_, err = books.UpdateOne(ctx, queryx.Eq("title", "1984"), map[string]any{})
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("empty changes: %v, want MALFORMED_REQUEST", err)
	}
}

func TestDeleteOne(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	res, err := books.DeleteOne(ctx, queryx.Eq("title", "The Hobbit"))
	if err != nil {
		t.Fatalf("DeleteOne: %s", err)
	}
	if res.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", res.DeletedCount)
	}
	if n, _ := books.Count(ctx, nil); n != 5 {
		t.Errorf("count after delete = %d, want 5", n)
	}
}

func TestDeleteOneZeroMatchLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	res, err := books.DeleteOne(ctx, queryx.Eq("title", "Missing"))
	if err != nil {
		t.Fatalf("DeleteOne: %s", err)
	}
	if res.DeletedCount != 0 {
		t.Errorf("DeletedCount = %d, want 0", res.DeletedCount)
	}
	if n, _ := books.Count(ctx, nil); n != 6 {
		t.Errorf("count = %d, want 6", n)
	}
}

func TestDeleteOneRemovesFirstByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	if _, err := books.DeleteOne(ctx, queryx.Eq("genre", "dystopia")); err != nil {
		t.Fatalf("DeleteOne: %s", err)
	}

	if n, _ := books.Count(ctx, queryx.Eq("title", "1984")); n != 0 {
		t.Error("first inserted dystopia (1984) should have been the one deleted")
	}
	if n, _ := books.Count(ctx, queryx.Eq("genre", "dystopia")); n != 2 {
		t.Errorf("remaining dystopias = %d, want 2", n)
	}
}

func TestAggregateGroupSortLimit(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	cursor, err := books.Aggregate(ctx, queryx.NewPipeline(
		queryx.Group(queryx.Field("genre"),
			queryx.Avg("avg_price", queryx.Field("price")),
			queryx.Count("titles"),
		),
		queryx.SortBy(queryx.Desc("avg_price")),
		queryx.Limit(2),
	))
	if err != nil {
		t.Fatalf("Aggregate: %s", err)
	}

	groups, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("cursor: %s", err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}

	// sci-fi avg 16, dystopia avg 11, fantasy avg 9.
	first, _ := groups[0].Get(queryx.IDField)
	second, _ := groups[1].Get(queryx.IDField)
	if first != "sci-fi" || second != "dystopia" {
		t.Errorf("group order = %v, %v; want sci-fi, dystopia", first, second)
	}
	if avg, _ := groups[0].GetFloat("avg_price"); avg != 16.0 {
		t.Errorf("sci-fi avg = %v, want 16", avg)
	}
	if n, _ := groups[1].GetInt("titles"); n != 3 {
		t.Errorf("dystopia titles = %d, want 3", n)
	}
}

func TestAggregateCountConservation(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	cursor, err := books.Aggregate(ctx, queryx.NewPipeline(
		queryx.Group(queryx.Field("genre"), queryx.Count("n")),
	))
	if err != nil {
		t.Fatalf("Aggregate: %s", err)
	}
	groups, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("cursor: %s", err)
	}

	var total int64
	for _, group := range groups {
		n, _ := group.GetInt("n")
		total += n
	}
	if total != 6 {
		t.Errorf("sum of group counts = %d, want 6", total)
	}
}

func TestAggregateEmptyCollection(t *testing.T) {
	ctx := context.Background()
	books := New()

	cursor, err := books.Aggregate(ctx, queryx.NewPipeline(
		queryx.Group(queryx.Field("genre"), queryx.Count("n")),
	))
	if err != nil {
		t.Fatalf("Aggregate: %s", err)
	}
	groups, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("cursor: %s", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %d, want 0", len(groups))
	}
}

func TestAggregateRejectsMalformedPipeline(t *testing.T) {
	ctx := context.Background()
	books := New()

	_, err := books.Aggregate(ctx, queryx.NewPipeline())
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("empty pipeline: %v", err)
	}

	_, err = books.Aggregate(ctx, queryx.NewPipeline(queryx.Limit(0)))
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("bad limit: %v", err)
	}
}

func TestCreateIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	books := New()

	spec := queryx.NewIndex(queryx.Asc("genre"), queryx.Desc("price"))
	name, err := books.CreateIndex(ctx, spec)
	if err != nil {
		t.Fatalf("CreateIndex: %s", err)
	}
	if name != "genre_1_price_-1" {
		t.Errorf("name = %q, want genre_1_price_-1", name)
	}

	again, err := books.CreateIndex(ctx, spec)
	if err != nil {
		t.Fatalf("repeat CreateIndex: %s", err)
	}
	if again != name {
		t.Errorf("repeat name = %q, want %q", again, name)
	}

	indexes, err := books.Indexes(ctx)
	if err != nil {
		t.Fatalf("Indexes: %s", err)
	}
	if len(indexes) != 1 {
		t.Errorf("indexes = %d, want 1 (declaration is idempotent)", len(indexes))
	}
}

func TestCreateIndexRejectsEmptySpec(t *testing.T) {
	ctx := context.Background()
	books := New()

	_, err := books.CreateIndex(ctx, queryx.NewIndex())
	if err == nil || !queryx.IsMalformedRequest(err) {
		t.Errorf("empty spec: %v", err)
	}
}

func TestIndexesListedInCreationOrder(t *testing.T) {
	ctx := context.Background()
	books := New()

	specs := []queryx.IndexSpec{
		queryx.NewIndex(queryx.Asc("genre")),
		queryx.NewIndex(queryx.Desc("price")),
		queryx.NewIndex(queryx.Asc("title")),
	}
	for _, spec := range specs {
		if _, err := books.CreateIndex(ctx, spec); err != nil {
			t.Fatalf("CreateIndex: %s", err)
		}
	}

	indexes, err := books.Indexes(ctx)
	if err != nil {
		t.Fatalf("Indexes: %s", err)
	}
	if len(indexes) != len(specs) {
		t.Fatalf("indexes = %d, want %d", len(indexes), len(specs))
	}
	for i := range specs {
		if indexes[i].Name() != specs[i].Name() {
			t.Errorf("indexes[%d] = %q, want %q", i, indexes[i].Name(), specs[i].Name())
		}
	}
}

func TestRepricingScenario(t *testing.T) {
	ctx := context.Background()
	books := New()
	seedCatalogue(t, books)

	// Reprice 1984 from 10 to 15 and verify through a filtered read.
	res, err := books.UpdateOne(ctx, queryx.Eq("title", "1984"), map[string]any{"price": 15.0})
	if err != nil {
		t.Fatalf("UpdateOne: %s", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Fatalf("result = %+v", res)
	}

	n, err := books.Count(ctx, queryx.And(
		queryx.Eq("genre", "dystopia"),
		queryx.Gte("price", 15),
	))
	if err != nil || n != 1 {
		t.Errorf("dystopias at 15+: %d, %v; want 1", n, err)
	}
}

func TestWithIDGenerator(t *testing.T) {
	ctx := context.Background()
	seq := 0
	books := New(WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("book-%d", seq)
	}))

	ids, err := books.InsertMany(ctx, []*queryx.Document{
		book("A", "x", 1.0),
		book("B", "x", 2.0),
	})
	if err != nil {
		t.Fatalf("InsertMany: %s", err)
	}
	if ids[0] != "book-1" || ids[1] != "book-2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestCursorBatchingOverFind(t *testing.T) {
	ctx := context.Background()
	books := New(WithBatchSize(2))
	seedCatalogue(t, books)

	cursor, err := books.Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find: %s", err)
	}

	var count int
	for cursor.Next(ctx) {
		count++
	}
	if err := cursor.Err(); err != nil {
		t.Fatalf("Err: %s", err)
	}
	if count != 6 {
		t.Errorf("iterated %d documents, want 6", count)
	}
}
