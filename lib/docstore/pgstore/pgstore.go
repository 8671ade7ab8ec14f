// Package pgstore is a docstore backend keeping every collection in one
// PostgreSQL table of jsonb documents.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/logging"
)

type PostgresConfig struct {
	PostgresUser string
	PostgresDB   string
	PostgresHost string
	PostgresPass string
}

func (p PostgresConfig) MakeConnectionString() (string, error) {
	if p.PostgresDB == "" {
		return "", errors.New("no database name configured")
	}
	connStr := fmt.Sprintf("user=%s dbname=%s host=%s password=%s sslmode=disable", p.PostgresUser, p.PostgresDB, p.PostgresHost, p.PostgresPass)
	return connStr, nil
}

type Params struct {
	Postgres           PostgresConfig
	SQLDriverName      string
	Verbosity          int
	DisableAutoMigrate bool

	// ConnectTimeout bounds how long Open keeps retrying an unreachable
	// database. Zero means one minute.
	ConnectTimeout time.Duration
}

type Store struct {
	db        *sql.DB
	verbosity int

	mu      sync.Mutex
	indexes map[string]docstore.Index
}

var _ docstore.Backend = (*Store)(nil)

func Open(ctx context.Context, params Params) (*Store, error) {
	logger := logging.FromContext(ctx)

	connStr, err := params.Postgres.MakeConnectionString()
	if err != nil {
		return nil, err
	}

	sqlDriverName := params.SQLDriverName
	if sqlDriverName == "" {
		sqlDriverName = "postgres"
	}

	rawDB, err := otelsql.Open(sqlDriverName, connStr)
	if err != nil {
		return nil, err
	}

	timeout := params.ConnectTimeout
	if timeout == 0 {
		timeout = time.Minute
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout

	ping := func() error {
		return rawDB.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not reachable; retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("unable to connect to database %q on %q: %w", params.Postgres.PostgresDB, params.Postgres.PostgresHost, err)
	}

	if params.Verbosity > 1 {
		logger.Info("connected to database", zap.String("host", params.Postgres.PostgresHost))
	}

	s := &Store{
		db:        rawDB,
		verbosity: params.Verbosity,
		indexes:   map[string]docstore.Index{},
	}

	if !params.DisableAutoMigrate {
		if err := s.runMigrations(ctx); err != nil {
			rawDB.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Find(ctx context.Context, q *docstore.CompiledQuery) ([]docstore.Document, error) {
	query, args, err := buildFindQuery(q)
	if err != nil {
		return nil, err
	}

	if s.verbosity > 2 {
		logging.FromContext(ctx).Debug("executing query", zap.String("query", query), zap.Int("args", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rv []docstore.Document
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc docstore.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("corrupt document in %q: %w", q.Collection, err)
		}
		rv = append(rv, q.Projection.Apply(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rv, nil
}

func (s *Store) Count(ctx context.Context, collection string, filter docstore.Node) (int, error) {
	query, args, err := buildCountQuery(collection, filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Insert(ctx context.Context, collection string, docs ...docstore.Document) error {
	if len(docs) == 1 {
		data, err := json.Marshal(docs[0])
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)",
			collection, docs[0].ID(), string(data))
		return s.translateError(collection, err, docs[0])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			tx.Rollback()
		}
	}()

	copyStmt, err := tx.PrepareContext(ctx, pq.CopyIn("documents", "collection", "id", "doc"))
	if err != nil {
		return err
	}

	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			copyStmt.Close()
			return err
		}
		if _, err := copyStmt.ExecContext(ctx, collection, doc.ID(), string(data)); err != nil {
			copyStmt.Close()
			return s.translateError(collection, err, nil)
		}
	}

	if _, err := copyStmt.ExecContext(ctx); err != nil {
		copyStmt.Close()
		return s.translateError(collection, err, nil)
	}
	if err := copyStmt.Close(); err != nil {
		return s.translateError(collection, err, nil)
	}

	if err := tx.Commit(); err != nil {
		return s.translateError(collection, err, nil)
	}
	success = true

	if s.verbosity > 1 {
		logging.FromContext(ctx).Info("copied documents", zap.String("collection", collection), zap.Int("count", len(docs)))
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, collection string, doc docstore.Document, version float64) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE documents SET doc = $3, updated_at = NOW() WHERE collection = $1 AND id = $2 AND (doc->>'__v')::numeric = $4",
		collection, doc.ID(), string(data), version)
	if err != nil {
		return false, s.translateError(collection, err, doc)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, collection string, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2",
		collection, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteAll(ctx context.Context, collection string) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1", collection)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func indexName(collection string, index docstore.Index) string {
	return "documents_" + collection + "_" + index.Name
}

func indexDDL(collection string, index docstore.Index) string {
	exprs := make([]string, len(index.Fields))
	for i, f := range index.Fields {
		exprs[i] = fmt.Sprintf("(doc #>> %s)", pq.QuoteLiteral("{"+strings.ReplaceAll(f, ".", ",")+"}"))
	}
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents (%s) WHERE collection = %s",
		pq.QuoteIdentifier(indexName(collection, index)),
		strings.Join(exprs, ", "),
		pq.QuoteLiteral(collection))
}

// EnsureIndexes creates a partial unique expression index per unique index.
// Non-unique indexes are ignored.
func (s *Store) EnsureIndexes(ctx context.Context, collection string, indexes []docstore.Index) error {
	for _, index := range indexes {
		if !index.Unique {
			continue
		}
		if _, err := s.db.ExecContext(ctx, indexDDL(collection, index)); err != nil {
			return s.translateError(collection, err, nil)
		}

		s.mu.Lock()
		s.indexes[indexName(collection, index)] = index
		s.mu.Unlock()
	}
	return nil
}

var duplicateDetailRE = regexp.MustCompile(`\)=\((.*)\) already exists`)

// translateError turns unique violations into a *docstore.DuplicateKeyError.
// doc, if known, is the document whose write failed.
func (s *Store) translateError(collection string, err error, doc docstore.Document) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}

	s.mu.Lock()
	index, known := s.indexes[pqErr.Constraint]
	s.mu.Unlock()

	if !known {
		if pqErr.Constraint == "documents_pkey" {
			index = docstore.Index{Name: docstore.IDField + "_", Fields: []string{docstore.IDField}, Unique: true}
		} else {
			index = docstore.Index{Name: pqErr.Constraint}
		}
	}

	rv := &docstore.DuplicateKeyError{
		Collection: collection,
		Index:      index.Name,
		Fields:     index.Fields,
	}

	switch {
	case doc != nil && len(index.Fields) == 1:
		rv.Value, _ = doc.Lookup(index.Fields[0])
	default:
		if m := duplicateDetailRE.FindStringSubmatch(pqErr.Detail); m != nil {
			rv.Value = m[1]
		}
	}

	return rv
}
