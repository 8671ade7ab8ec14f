package memstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/steinarvk/natours/lib/docstore"
)

var itemSchema = &docstore.Schema{
	Collection: "items",
	Fields: []docstore.Field{
		{Name: "name", Kind: docstore.String, Required: true, Unique: true},
		{Name: "price", Kind: docstore.Number},
		{Name: "hidden", Kind: docstore.Boolean, Default: func() interface{} { return false }},
		{Name: "createdAt", Kind: docstore.Date, Hidden: true, Default: func() interface{} { return "2020-01-01T00:00:00.000Z" }},
	},
	PreFind: []docstore.Predicate{{"hidden": map[string]interface{}{"$ne": true}}},
	Virtuals: []docstore.Virtual{{
		Name:     "priceWithTax",
		Requires: []string{"price"},
		Get: func(doc docstore.Document) interface{} {
			p, _ := doc["price"].(float64)
			return p * 1.25
		},
	}},
}

func newItems(t *testing.T, opts ...Option) (*Store, *docstore.Collection) {
	t.Helper()
	store, err := New(opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c := docstore.NewCollection(itemSchema, store)
	if err := c.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes error: %v", err)
	}
	return store, c
}

func seed(t *testing.T, c *docstore.Collection, docs ...docstore.Document) {
	t.Helper()
	if _, err := c.CreateMany(context.Background(), docs); err != nil {
		t.Fatalf("CreateMany error: %v", err)
	}
}

func names(docs []docstore.Document) []string {
	var rv []string
	for _, doc := range docs {
		s, _ := doc["name"].(string)
		rv = append(rv, s)
	}
	return rv
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFindFiltersSortsAndPaginates(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)
	seed(t, items,
		docstore.Document{"name": "a", "price": 50.0},
		docstore.Document{"name": "b", "price": 150.0},
		docstore.Document{"name": "c", "price": 100.0},
		docstore.Document{"name": "d", "price": 150.0},
		docstore.Document{"name": "e", "price": 200.0, "hidden": true},
	)

	q := items.Query().
		Find(docstore.Predicate{"price": map[string]interface{}{"$gte": "100"}}).
		Sort(docstore.ParseSortKey("-price"), docstore.ParseSortKey("name"))

	docs, err := items.Find(ctx, q)
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got, want := names(docs), []string{"b", "d", "c"}; !equalStrings(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	docs, err = items.Find(ctx, q.Skip(1).Limit(1))
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got, want := names(docs), []string{"d"}; !equalStrings(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	docs, err = items.Find(ctx, q.Skip(100))
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no results past the end, got %v", names(docs))
	}

	n, err := items.Count(ctx, items.Query().WithoutMiddleware())
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 5 {
		t.Fatalf("Count without middleware = %d, want 5", n)
	}
}

func TestFindProjectsAndAddsVirtuals(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)
	seed(t, items, docstore.Document{"name": "a", "price": 100.0})

	doc, err := items.FindOne(ctx, items.Query())
	if err != nil {
		t.Fatalf("FindOne error: %v", err)
	}
	if _, ok := doc["createdAt"]; ok {
		t.Fatalf("hidden field returned: %v", doc)
	}
	if doc["priceWithTax"] != 125.0 {
		t.Fatalf("virtual missing: %v", doc)
	}

	doc, err = items.FindOne(ctx, items.Query().Select(docstore.Include("name")...))
	if err != nil {
		t.Fatalf("FindOne error: %v", err)
	}
	if len(doc) != 2 || doc["name"] != "a" || doc.ID() == "" {
		t.Fatalf("unexpected projection %v", doc)
	}
}

func TestFindByIDErrors(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)

	_, err := items.FindByID(ctx, "5c88fa8cf4afda39709c2955")
	var cerr *docstore.CastError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CastError, got %v", err)
	}

	_, err = items.FindByID(ctx, "4b9e3f57-2f54-4a53-9d52-0b5e3c4f8b1a")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUniqueIndex(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)
	seed(t, items, docstore.Document{"name": "a"})

	_, err := items.Create(ctx, docstore.Document{"name": "a"})
	var derr *docstore.DuplicateKeyError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if derr.Value != "a" || derr.Index != "name_1" {
		t.Fatalf("unexpected error %+v", derr)
	}

	_, err = items.CreateMany(ctx, []docstore.Document{{"name": "b"}, {"name": "b"}})
	if !errors.As(err, &derr) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if n, _ := items.Count(ctx, items.Query()); n != 1 {
		t.Fatalf("failed batch was partially stored: %d documents", n)
	}
}

func TestDuplicateIDIsRejected(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)

	const id = "6f1c2a3e-8d4b-4f5a-9c7e-1b2d3e4f5a6b"
	if _, err := items.Create(ctx, docstore.Document{"_id": id, "name": "first"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err := items.Create(ctx, docstore.Document{"_id": id, "name": "second"})
	var derr *docstore.DuplicateKeyError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if derr.Value != id || derr.Index != "_id_" {
		t.Fatalf("unexpected error %+v", derr)
	}

	other := "0b9e6a52-3f0d-4c1e-8a7b-2c3d4e5f6a7b"
	_, err = items.CreateMany(ctx, []docstore.Document{{"_id": other, "name": "c"}, {"_id": other, "name": "d"}})
	if !errors.As(err, &derr) {
		t.Fatalf("expected DuplicateKeyError within a batch, got %v", err)
	}

	docs, err := items.Find(ctx, items.Query())
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got := names(docs); !equalStrings(got, []string{"first"}) {
		t.Fatalf("got %v", got)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)

	created, err := items.Create(ctx, docstore.Document{"name": "a", "price": 10.0})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created["createdAt"] == nil {
		t.Fatalf("Create did not return the stored document: %v", created)
	}

	updated, err := items.Update(ctx, created.ID(), docstore.Document{"price": "20", "_id": "ignored"})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated["price"] != 20.0 || updated.ID() != created.ID() || updated["__v"] != 1.0 {
		t.Fatalf("unexpected update result %v", updated)
	}

	raw, err := items.FindByID(ctx, created.ID(), docstore.Include("createdAt")...)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if raw["createdAt"] != "2020-01-01T00:00:00.000Z" {
		t.Fatalf("update lost hidden field: %v", raw)
	}

	if _, err := items.Update(ctx, created.ID(), docstore.Document{"name": ""}); err == nil {
		t.Fatalf("expected validation error on update")
	}

	deleted, err := items.Delete(ctx, created.ID())
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if deleted.ID() != created.ID() {
		t.Fatalf("Delete returned %v", deleted)
	}
	if _, err := items.Delete(ctx, created.ID()); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestReplaceChecksVersion(t *testing.T) {
	ctx := context.Background()
	store, items := newItems(t)

	created, err := items.Create(ctx, docstore.Document{"name": "a", "price": 10.0})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	stale := created.Clone()
	stale["price"] = 99.0
	replaced, err := store.Replace(ctx, "items", stale, 7)
	if err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	if replaced {
		t.Fatalf("Replace with a stale version succeeded")
	}

	got, err := items.FindByID(ctx, created.ID())
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got["price"] != 10.0 {
		t.Fatalf("stale replace was stored: %v", got)
	}
}

// interleavedBackend runs interleave once, just before the first Replace.
type interleavedBackend struct {
	*Store
	interleave func()
}

func (b *interleavedBackend) Replace(ctx context.Context, name string, doc docstore.Document, version float64) (bool, error) {
	if f := b.interleave; f != nil {
		b.interleave = nil
		f()
	}
	return b.Store.Replace(ctx, name, doc, version)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	store, items := newItems(t)

	created, err := items.Create(ctx, docstore.Document{"name": "a", "price": 10.0})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	backend := &interleavedBackend{Store: store}
	racing := docstore.NewCollection(itemSchema, backend)
	backend.interleave = func() {
		if _, err := items.Update(ctx, created.ID(), docstore.Document{"price": 20.0}); err != nil {
			t.Fatalf("interleaved Update error: %v", err)
		}
	}

	updated, err := racing.Update(ctx, created.ID(), docstore.Document{"name": "b"})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated["name"] != "b" || updated["price"] != 20.0 || updated["__v"] != 2.0 {
		t.Fatalf("an update was lost: %v", updated)
	}
}

func TestUpdateRespectsPreFind(t *testing.T) {
	ctx := context.Background()
	_, items := newItems(t)

	created, err := items.Create(ctx, docstore.Document{"name": "secret", "hidden": true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := items.Update(ctx, created.ID(), docstore.Document{"price": 1.0}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "store.json")

	_, items := newItems(t, WithFile(filename))
	seed(t, items, docstore.Document{"name": "a", "price": 1.0}, docstore.Document{"name": "b", "price": 2.0})

	_, reopened := newItems(t, WithFile(filename))
	docs, err := reopened.Find(ctx, reopened.Query().Sort(docstore.ParseSortKey("-price")))
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got, want := names(docs), []string{"b", "a"}; !equalStrings(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if n, err := reopened.DeleteAll(ctx); err != nil || n != 2 {
		t.Fatalf("DeleteAll = %d, %v", n, err)
	}
	_, again := newItems(t, WithFile(filename))
	if n, _ := again.Count(ctx, again.Query()); n != 0 {
		t.Fatalf("deletion not persisted: %d documents", n)
	}
}
