// Package memstore is an in-process docstore backend. Predicates are
// evaluated directly against the documents; optionally the whole store is
// persisted to a single canonical JSON file after every write.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"go.uber.org/zap"

	"github.com/steinarvk/natours/lib/docstore"
)

type collection struct {
	docs    []docstore.Document
	indexes []docstore.Index
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	filename    string
	logger      *zap.Logger
}

type Option func(*Store) error

// WithFile loads the store from filename, if it exists, and saves it there
// after every write.
func WithFile(filename string) Option {
	return func(s *Store) error {
		s.filename = filename
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

func New(opts ...Option) (*Store, error) {
	s := &Store{
		collections: map[string]*collection{},
		logger:      zap.L(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.filename != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

var _ docstore.Backend = (*Store)(nil)

func (s *Store) get(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Find(ctx context.Context, q *docstore.CompiledQuery) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[q.Collection]
	if !ok {
		return nil, nil
	}

	var matches []docstore.Document
	for _, doc := range c.docs {
		if q.Filter == nil || q.Filter.Match(doc) {
			matches = append(matches, doc)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return less(q.Sort, matches[i], matches[j])
		})
	}

	if q.Skip >= len(matches) {
		return nil, nil
	}
	matches = matches[q.Skip:]
	if q.Limit > 0 && q.Limit < len(matches) {
		matches = matches[:q.Limit]
	}

	rv := make([]docstore.Document, len(matches))
	for i, doc := range matches {
		rv[i] = q.Projection.Apply(doc)
	}
	return rv, nil
}

func less(keys []docstore.CompiledSortKey, a, b docstore.Document) bool {
	for _, key := range keys {
		va, _ := a.Lookup(key.Field)
		vb, _ := b.Lookup(key.Field)
		c := docstore.CompareValues(va, vb)
		if key.Descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (s *Store) Count(ctx context.Context, name string, filter docstore.Node) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, doc := range c.docs {
		if filter == nil || filter.Match(doc) {
			n++
		}
	}
	return n, nil
}

// idIndexName is the implicit unique index on _id, always enforced.
const idIndexName = "_id_"

func (s *Store) Insert(ctx context.Context, name string, docs ...docstore.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(name)
	ids := make(map[string]bool, len(c.docs)+len(docs))
	for _, doc := range c.docs {
		ids[doc.ID()] = true
	}

	candidate := append([]docstore.Document(nil), c.docs...)
	for _, doc := range docs {
		stored := doc.Clone()
		id := stored.ID()
		if ids[id] {
			return &docstore.DuplicateKeyError{
				Collection: name,
				Index:      idIndexName,
				Fields:     []string{docstore.IDField},
				Value:      id,
			}
		}
		ids[id] = true
		if err := checkUnique(name, c.indexes, candidate, stored); err != nil {
			return err
		}
		candidate = append(candidate, stored)
	}
	c.docs = candidate

	return s.save()
}

func (s *Store) Replace(ctx context.Context, name string, doc docstore.Document, version float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(name)
	for i, existing := range c.docs {
		if existing.ID() != doc.ID() {
			continue
		}
		if docstore.CompareValues(existing[docstore.VersionField], version) != 0 {
			return false, nil
		}
		others := append(append([]docstore.Document(nil), c.docs[:i]...), c.docs[i+1:]...)
		stored := doc.Clone()
		if err := checkUnique(name, c.indexes, others, stored); err != nil {
			return false, err
		}
		c.docs[i] = stored
		return true, s.save()
	}
	return false, nil
}

func (s *Store) Delete(ctx context.Context, name string, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(name)
	for i, existing := range c.docs {
		if existing.ID() == id {
			c.docs = append(c.docs[:i:i], c.docs[i+1:]...)
			return true, s.save()
		}
	}
	return false, nil
}

func (s *Store) DeleteAll(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(name)
	n := len(c.docs)
	c.docs = nil
	return n, s.save()
}

// EnsureIndexes registers the unique indexes to enforce on later writes. It
// fails if the stored documents already violate one of them.
func (s *Store) EnsureIndexes(ctx context.Context, name string, indexes []docstore.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(name)
	var seen []docstore.Document
	for _, doc := range c.docs {
		if err := checkUnique(name, indexes, seen, doc); err != nil {
			return err
		}
		seen = append(seen, doc)
	}
	c.indexes = indexes
	return nil
}

func (s *Store) Close() error {
	return nil
}

func indexKey(index docstore.Index, doc docstore.Document) (string, bool) {
	parts := make([]string, len(index.Fields))
	for i, f := range index.Fields {
		v, ok := doc.Lookup(f)
		if !ok || v == nil {
			return "", false
		}
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x00"), true
}

func checkUnique(name string, indexes []docstore.Index, existing []docstore.Document, doc docstore.Document) error {
	for _, index := range indexes {
		if !index.Unique {
			continue
		}
		key, ok := indexKey(index, doc)
		if !ok {
			continue
		}
		for _, other := range existing {
			if otherKey, ok := indexKey(index, other); ok && otherKey == key && other.ID() != doc.ID() {
				var value interface{}
				if len(index.Fields) == 1 {
					value, _ = doc.Lookup(index.Fields[0])
				} else {
					values := make([]interface{}, len(index.Fields))
					for i, f := range index.Fields {
						values[i], _ = doc.Lookup(f)
					}
					value = values
				}
				return &docstore.DuplicateKeyError{
					Collection: name,
					Index:      index.Name,
					Fields:     index.Fields,
					Value:      value,
				}
			}
		}
	}
	return nil
}

type snapshot struct {
	Collections map[string][]docstore.Document `json:"collections"`
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("error parsing %q: %w", s.filename, err)
	}
	for name, docs := range snap.Collections {
		s.get(name).docs = docs
	}

	s.logger.Info("loaded document store",
		zap.String("filename", s.filename),
		zap.Int("collections", len(snap.Collections)))
	return nil
}

// save must be called with the write lock held.
func (s *Store) save() error {
	if s.filename == "" {
		return nil
	}

	snap := snapshot{Collections: map[string][]docstore.Document{}}
	for name, c := range s.collections {
		snap.Collections[name] = c.docs
	}

	data, err := canonicaljson.Marshal(snap)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filename), ".memstore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.filename)
}
