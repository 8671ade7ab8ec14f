package docstore

import (
	"context"

	"github.com/steinarvk/natours/lib/logging"
	"go.uber.org/zap"
)

// Collection binds a schema to a backend. It is the only way documents are
// read or written, so casting, defaults, hooks and validation always apply.
type Collection struct {
	schema  *Schema
	backend Backend
}

func NewCollection(schema *Schema, backend Backend) *Collection {
	return &Collection{schema: schema, backend: backend}
}

func (c *Collection) Name() string {
	return c.schema.Collection
}

func (c *Collection) Schema() *Schema {
	return c.schema
}

// Query starts an empty query over the collection.
func (c *Collection) Query() Query {
	return NewQuery()
}

// Find executes q. Cast failures and invalid queries are reported here, not
// while the query is being built.
func (c *Collection) Find(ctx context.Context, q Query) ([]Document, error) {
	compiled, err := c.schema.Compile(q)
	if err != nil {
		return nil, err
	}

	docs, err := c.backend.Find(ctx, compiled)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("find",
		zap.String("collection", c.schema.Collection),
		zap.Int("skip", compiled.Skip),
		zap.Int("limit", compiled.Limit),
		zap.Int("results", len(docs)))

	rv := make([]Document, len(docs))
	for i, doc := range docs {
		rv[i] = c.finish(compiled.Projection, doc)
	}
	return rv, nil
}

// FindOne returns the first match of q or ErrNotFound.
func (c *Collection) FindOne(ctx context.Context, q Query) (Document, error) {
	docs, err := c.Find(ctx, q.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (c *Collection) FindByID(ctx context.Context, id string, fields ...ProjectionField) (Document, error) {
	return c.FindOne(ctx, NewQuery().Find(Predicate{IDField: id}).Select(fields...))
}

func (c *Collection) Count(ctx context.Context, q Query) (int, error) {
	compiled, err := c.schema.Compile(q)
	if err != nil {
		return 0, err
	}
	return c.backend.Count(ctx, c.schema.Collection, compiled.Filter)
}

func (c *Collection) Create(ctx context.Context, input Document) (Document, error) {
	doc, err := c.schema.prepare(input)
	if err != nil {
		return nil, err
	}
	if err := c.backend.Insert(ctx, c.schema.Collection, doc); err != nil {
		return nil, err
	}
	return c.finish(CompiledProjection{}, doc), nil
}

// CreateMany validates every input before storing any of them.
func (c *Collection) CreateMany(ctx context.Context, inputs []Document) (int, error) {
	docs := make([]Document, 0, len(inputs))
	for _, input := range inputs {
		doc, err := c.schema.prepare(input)
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := c.backend.Insert(ctx, c.schema.Collection, docs...); err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("inserted documents",
		zap.String("collection", c.schema.Collection),
		zap.Int("count", len(docs)))
	return len(docs), nil
}

const maxUpdateAttempts = 5

// Update applies changes to the document with the given id and returns the
// new version. Documents hidden by the PreFind predicates cannot be updated.
//
// The write only lands if the stored version is still the one the changes
// were merged into; otherwise the document is read again and the changes
// reapplied, up to maxUpdateAttempts times.
func (c *Collection) Update(ctx context.Context, id string, changes Document) (Document, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		existing, err := c.findRaw(ctx, id)
		if err != nil {
			return nil, err
		}
		version, _ := toFloat(existing[VersionField])

		doc, err := c.schema.prepare(merge(existing, changes))
		if err != nil {
			return nil, err
		}

		replaced, err := c.backend.Replace(ctx, c.schema.Collection, doc, version)
		if err != nil {
			return nil, err
		}
		if replaced {
			return c.finish(c.defaultProjection(), doc), nil
		}

		logging.FromContext(ctx).Debug("document changed during update; retrying",
			zap.String("collection", c.schema.Collection),
			zap.String("id", existing.ID()),
			zap.Int("attempt", attempt+1))
	}
	return nil, ErrConflict
}

// Delete removes the document with the given id and returns it as it was.
func (c *Collection) Delete(ctx context.Context, id string) (Document, error) {
	existing, err := c.findRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	found, err := c.backend.Delete(ctx, c.schema.Collection, existing.ID())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return c.finish(c.defaultProjection(), existing), nil
}

func (c *Collection) DeleteAll(ctx context.Context) (int, error) {
	n, err := c.backend.DeleteAll(ctx, c.schema.Collection)
	if err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("deleted documents",
		zap.String("collection", c.schema.Collection),
		zap.Int("count", n))
	return n, nil
}

func (c *Collection) EnsureIndexes(ctx context.Context) error {
	return c.backend.EnsureIndexes(ctx, c.schema.Collection, c.schema.AllIndexes())
}

// findRaw fetches a whole stored document, hidden fields included.
func (c *Collection) findRaw(ctx context.Context, id string) (Document, error) {
	compiled, err := c.schema.Compile(NewQuery().Find(Predicate{IDField: id}).Limit(1))
	if err != nil {
		return nil, err
	}
	compiled.Projection = CompiledProjection{}

	docs, err := c.backend.Find(ctx, compiled)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (c *Collection) defaultProjection() CompiledProjection {
	p, _ := c.schema.compileProjection(nil)
	return p
}

func (c *Collection) finish(projection CompiledProjection, doc Document) Document {
	rv := projection.Apply(doc)
	for _, v := range c.schema.Virtuals {
		ready := true
		for _, req := range v.Requires {
			if _, ok := rv.Lookup(req); !ok {
				ready = false
				break
			}
		}
		if ready {
			rv[v.Name] = v.Get(rv)
		}
	}
	return rv
}
