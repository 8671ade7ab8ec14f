package pgstore

import (
	"context"
	"fmt"
)

type TableStats struct {
	SchemaName          string
	TableName           string
	PgRelationSize      int64
	PgIndexesSize       int64
	PgTotalRelationSize int64
	NLiveTuples         int64
	NDeadTuples         int64
}

type CollectionStats struct {
	NumDocuments         int
	MaxDocumentLength    int
	TotalLengthDocuments int64
}

type Stats struct {
	Collections map[string]CollectionStats

	TableStats map[string]TableStats

	TotalSizeAllIndexes   int64
	TotalSizeAllRelations int64
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	ts, err := s.getTableStats(ctx)
	if err != nil {
		return nil, err
	}

	rv := Stats{
		Collections: map[string]CollectionStats{},
		TableStats:  ts,
	}

	for _, t := range ts {
		rv.TotalSizeAllRelations += t.PgTotalRelationSize
		rv.TotalSizeAllIndexes += t.PgIndexesSize
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT
		collection
		, COUNT(*)
		, COALESCE(SUM(LENGTH(doc::text)), 0)
		, COALESCE(MAX(LENGTH(doc::text)), 0)
	FROM documents
	GROUP BY collection
	;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var cs CollectionStats
		if err := rows.Scan(&name, &cs.NumDocuments, &cs.TotalLengthDocuments, &cs.MaxDocumentLength); err != nil {
			return nil, err
		}
		rv.Collections[name] = cs
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &rv, nil
}

func (s *Store) getTableStats(ctx context.Context) (map[string]TableStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT
		tables.schemaname
		, tables.relname
		, pg_relation_size(tables.schemaname || '.' || tables.relname) AS pg_relation_size
		, pg_indexes_size(tables.schemaname || '.' || tables.relname) AS pg_indexes_size
		, pg_total_relation_size(tables.schemaname || '.' || tables.relname) AS pg_total_relation_size
		, tables.n_live_tup
		, tables.n_dead_tup
	FROM pg_stat_all_tables AS tables
	WHERE tables.schemaname = 'public'
	;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tableStats := map[string]TableStats{}
	for rows.Next() {
		var entry TableStats
		if err := rows.Scan(
			&entry.SchemaName,
			&entry.TableName,
			&entry.PgRelationSize,
			&entry.PgIndexesSize,
			&entry.PgTotalRelationSize,
			&entry.NLiveTuples,
			&entry.NDeadTuples,
		); err != nil {
			return nil, err
		}
		tableStats[fmt.Sprintf("%s.%s", entry.SchemaName, entry.TableName)] = entry
	}

	return tableStats, rows.Err()
}
