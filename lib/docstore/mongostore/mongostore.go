// Package mongostore is a docstore backend on MongoDB. Compiled predicates
// translate one-to-one into MongoDB filter documents.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/logging"
)

type Params struct {
	URI      string
	Database string

	ConnectTimeout time.Duration
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ docstore.Backend = (*Store)(nil)

func Open(ctx context.Context, params Params) (*Store, error) {
	if params.URI == "" {
		return nil, errors.New("no MongoDB URI configured")
	}
	if params.Database == "" {
		return nil, errors.New("no MongoDB database configured")
	}

	timeout := params.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(params.URI).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("unable to reach MongoDB: %w", err)
	}

	logging.FromContext(ctx).Info("connected to MongoDB", zap.String("database", params.Database))

	return &Store{
		client: client,
		db:     client.Database(params.Database),
	}, nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func filterDocument(node docstore.Node) (bson.M, error) {
	switch n := node.(type) {
	case nil:
		return bson.M{}, nil

	case *docstore.LogicalNode:
		if len(n.Children) == 0 {
			if n.Operator == docstore.LogicalOr {
				return bson.M{"$nor": bson.A{bson.M{}}}, nil
			}
			return bson.M{}, nil
		}
		children := make(bson.A, 0, len(n.Children))
		for _, child := range n.Children {
			sub, err := filterDocument(child)
			if err != nil {
				return nil, err
			}
			if n.Operator == docstore.LogicalAnd && len(sub) == 0 {
				continue
			}
			children = append(children, sub)
		}
		if len(children) == 0 {
			return bson.M{}, nil
		}
		if len(children) == 1 && n.Operator == docstore.LogicalAnd {
			return children[0].(bson.M), nil
		}
		return bson.M{n.Operator: children}, nil

	case *docstore.FieldNode:
		return bson.M{n.Path: bson.M{string(n.Operator): n.Value}}, nil
	}

	return nil, fmt.Errorf("unexpected predicate node %T", node)
}

func sortDocument(keys []docstore.CompiledSortKey) bson.D {
	rv := bson.D{}
	for _, key := range keys {
		direction := 1
		if key.Descending {
			direction = -1
		}
		rv = append(rv, bson.E{Key: key.Field, Value: direction})
	}
	return rv
}

func projectionDocument(p docstore.CompiledProjection) bson.D {
	rv := bson.D{}
	if p.Inclusive {
		for _, f := range p.Fields {
			rv = append(rv, bson.E{Key: f, Value: 1})
		}
		if p.ExcludeID {
			rv = append(rv, bson.E{Key: docstore.IDField, Value: 0})
		}
		return rv
	}
	for _, f := range p.Fields {
		rv = append(rv, bson.E{Key: f, Value: 0})
	}
	return rv
}

func (s *Store) Find(ctx context.Context, q *docstore.CompiledQuery) ([]docstore.Document, error) {
	filter, err := filterDocument(q.Filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(sortDocument(q.Sort))
	}
	if projection := projectionDocument(q.Projection); len(projection) > 0 {
		opts.SetProjection(projection)
	}
	if q.Skip > 0 {
		opts.SetSkip(int64(q.Skip))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, err
	}

	rv := make([]docstore.Document, len(raw))
	for i, m := range raw {
		rv[i] = docstore.Document(normalize(m).(map[string]interface{}))
	}
	return rv, nil
}

func (s *Store) Count(ctx context.Context, collection string, filter docstore.Node) (int, error) {
	f, err := filterDocument(filter)
	if err != nil {
		return 0, err
	}
	n, err := s.db.Collection(collection).CountDocuments(ctx, f)
	return int(n), err
}

func (s *Store) Insert(ctx context.Context, collection string, docs ...docstore.Document) error {
	if len(docs) == 0 {
		return nil
	}

	items := make([]interface{}, len(docs))
	for i, doc := range docs {
		items[i] = map[string]interface{}(doc)
	}

	coll := s.db.Collection(collection)
	if len(items) == 1 {
		_, err := coll.InsertOne(ctx, items[0])
		return translateError(collection, err)
	}

	// Without a transaction the stored prefix of a failed batch is removed
	// again by id.
	_, err := coll.InsertMany(ctx, items, options.InsertMany().SetOrdered(true))
	if err != nil {
		logger := logging.FromContext(ctx)
		ids, known := insertedBeforeFailure(docs, err)
		if !known {
			logger.Warn("batch insert failed without write errors; leaving any stored documents", zap.Error(err))
		}
		if len(ids) > 0 {
			if _, cleanupErr := coll.DeleteMany(ctx, bson.M{docstore.IDField: bson.M{"$in": ids}}); cleanupErr != nil {
				logger.Error("unable to remove partially inserted batch", zap.Error(cleanupErr))
			}
		}
		return translateError(collection, err)
	}
	return nil
}

// insertedBeforeFailure lists the ids an ordered InsertMany stored before
// its first write error. Documents from that index on were never written by
// this call, and may belong to earlier ones. known is false when err carries
// no write errors to locate the failure.
func insertedBeforeFailure(docs []docstore.Document, err error) (ids bson.A, known bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return nil, false
	}

	first := bwe.WriteErrors[0].Index
	for _, we := range bwe.WriteErrors[1:] {
		if we.Index < first {
			first = we.Index
		}
	}
	if first > len(docs) {
		first = len(docs)
	}

	ids = bson.A{}
	for _, doc := range docs[:first] {
		ids = append(ids, doc.ID())
	}
	return ids, true
}

func (s *Store) Replace(ctx context.Context, collection string, doc docstore.Document, version float64) (bool, error) {
	result, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{docstore.IDField: doc.ID(), docstore.VersionField: version},
		map[string]interface{}(doc))
	if err != nil {
		return false, translateError(collection, err)
	}
	return result.MatchedCount > 0, nil
}

func (s *Store) Delete(ctx context.Context, collection string, id string) (bool, error) {
	result, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{docstore.IDField: id})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

func (s *Store) DeleteAll(ctx context.Context, collection string) (int, error) {
	result, err := s.db.Collection(collection).DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}

func (s *Store) EnsureIndexes(ctx context.Context, collection string, indexes []docstore.Index) error {
	var models []mongo.IndexModel
	for _, index := range indexes {
		keys := bson.D{}
		for _, f := range index.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(index.Name).SetUnique(index.Unique),
		})
	}
	if len(models) == 0 {
		return nil
	}
	_, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models)
	return translateError(collection, err)
}

var duplicateKeyRE = regexp.MustCompile(`index: (\S+) dup key: \{ ?(.*?) ?\}`)

func translateError(collection string, err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return parseDuplicateKeyMessage(collection, err.Error())
}

// parseDuplicateKeyMessage reads the index and the first duplicated value
// from a server message like
//
//	E11000 duplicate key error collection: natours.tours index: name_1 dup key: { name: "The Forest Hiker" }
func parseDuplicateKeyMessage(collection, msg string) *docstore.DuplicateKeyError {
	rv := &docstore.DuplicateKeyError{Collection: collection}

	m := duplicateKeyRE.FindStringSubmatch(msg)
	if m == nil {
		return rv
	}
	rv.Index = m[1]

	for _, pair := range strings.Split(m[2], ", ") {
		kv := strings.SplitN(pair, ": ", 2)
		if len(kv) != 2 {
			continue
		}
		rv.Fields = append(rv.Fields, kv[0])
		if rv.Value == nil {
			rv.Value = strings.Trim(kv[1], `"`)
		}
	}
	return rv
}

// normalize converts decoded BSON into the JSON data model of documents.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case bson.M:
		return normalize(map[string]interface{}(x))
	case map[string]interface{}:
		rv := make(map[string]interface{}, len(x))
		for k, vv := range x {
			rv[k] = normalize(vv)
		}
		return rv
	case bson.D:
		rv := make(map[string]interface{}, len(x))
		for _, e := range x {
			rv[e.Key] = normalize(e.Value)
		}
		return rv
	case bson.A:
		return normalize([]interface{}(x))
	case []interface{}:
		rv := make([]interface{}, len(x))
		for i, vv := range x {
			rv[i] = normalize(vv)
		}
		return rv
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case primitive.DateTime:
		return docstore.FormatTime(x.Time())
	case time.Time:
		return docstore.FormatTime(x)
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Decimal128:
		return x.String()
	}
	return v
}
