package docstore

import "context"

// Backend stores the documents of every collection. Queries reach a backend
// already compiled and cast against the collection's schema.
//
// Find may apply the projection itself or return whole documents; the
// caller applies it again either way.
type Backend interface {
	Find(ctx context.Context, q *CompiledQuery) ([]Document, error)
	Count(ctx context.Context, collection string, filter Node) (int, error)

	// Insert fails with a *DuplicateKeyError if a unique index is violated,
	// in which case none of docs are stored.
	Insert(ctx context.Context, collection string, docs ...Document) error

	// Replace stores doc over the document with the same id, but only while
	// that document's version field still equals version. It reports false
	// when no such document exists.
	Replace(ctx context.Context, collection string, doc Document, version float64) (bool, error)
	Delete(ctx context.Context, collection string, id string) (bool, error)
	DeleteAll(ctx context.Context, collection string) (int, error)

	EnsureIndexes(ctx context.Context, collection string, indexes []Index) error
	Close() error
}
