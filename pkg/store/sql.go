package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"github.com/google/uuid"
)

const currentSchemaVersion = 1

type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

type SQLOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenSQL opens the database behind driver/dsn and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string, opts SQLOptions) (*SQLStore, error) {
	dialect, err := LookupDialect(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect.Name, err)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	createVersion := `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`
	if s.dialect.Name == "sqlserver" {
		createVersion = `IF OBJECT_ID('schema_version', 'U') IS NULL CREATE TABLE schema_version (version INTEGER NOT NULL)`
	}
	if _, err := s.db.ExecContext(ctx, createVersion); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.freshInstall(ctx)
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case v == currentSchemaVersion:
		return nil
	default:
		return fmt.Errorf("unknown schema version %d", v)
	}
}

func (s *SQLStore) freshInstall(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range s.dialect.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		s.dialect.Rebind("INSERT INTO schema_version(version) VALUES(?)"),
		currentSchemaVersion,
	); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) load(
	ctx context.Context,
	q queryRower,
	entityType, id string,
	lock bool,
) (*entity.Entity, error) {
	query := "SELECT data FROM entities WHERE entity_type = ? AND id = ?"
	if lock {
		query = s.dialect.forUpdate(query)
	}

	var data []byte
	err := q.QueryRowContext(ctx, s.dialect.Rebind(query), entityType, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", id, err)
	}

	var e entity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", id, err)
	}
	return &e, nil
}

func (s *SQLStore) Get(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	return s.load(ctx, s.db, entityType, id, false)
}

func (s *SQLStore) UpsertCompare(
	ctx context.Context,
	e *entity.Entity,
	opts CompareOptions,
) (PersistResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := s.load(ctx, tx, e.Type, e.ID, true)
	if err != nil {
		return PersistResult{}, err
	}

	toWrite, res, write, err := prepareUpsert(old, e, opts, s.now())
	if err != nil || !write {
		return res, err
	}

	data, err := json.Marshal(toWrite)
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to encode entity %s: %w", e.ID, err)
	}

	var lastChange any
	if toWrite.LastChange != nil {
		lastChange = toWrite.LastChange.UTC()
	}

	if old == nil {
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO entities
			(entity_type, id, source, sync_source_interface, active, data, last_change)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			toWrite.Type, toWrite.ID, toWrite.Source, toWrite.SyncSourceInterface,
			toWrite.Active, string(data), lastChange,
		)
	} else {
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE entities
			SET source = ?, sync_source_interface = ?, active = ?, data = ?, last_change = ?
			WHERE entity_type = ? AND id = ?`),
			toWrite.Source, toWrite.SyncSourceInterface, toWrite.Active, string(data), lastChange,
			toWrite.Type, toWrite.ID,
		)
	}
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to write entity %s: %w", e.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return PersistResult{}, fmt.Errorf("failed to commit entity %s: %w", e.ID, err)
	}
	return res, nil
}

func (s *SQLStore) Delete(ctx context.Context, entityType, id string) (PersistResult, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.dialect.Rebind("DELETE FROM entities WHERE entity_type = ? AND id = ?"),
		entityType, id,
	)
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to delete entity %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to delete entity %s: %w", id, err)
	}
	if n == 0 {
		return PersistResult{ErrorReason: ReasonNotFound}, nil
	}
	return PersistResult{Deleted: 1}, nil
}

func (s *SQLStore) ListIDsBySourceInterface(
	ctx context.Context,
	entityType string,
	sources, interfaces []string,
) ([]string, error) {
	query := "SELECT id FROM entities WHERE entity_type = ?"
	args := []any{entityType}

	if len(sources) > 0 {
		query += " AND source IN (" + s.dialect.placeholders(len(sources)) + ")"
		for _, src := range sources {
			args = append(args, src)
		}
	}
	if len(interfaces) > 0 {
		query += " AND sync_source_interface IN (" + s.dialect.placeholders(len(interfaces)) + ")"
		for _, iface := range interfaces {
			args = append(args, iface)
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Insert(ctx context.Context, rec entity.RawRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO raw_records
		(id, datasource, sourceinterface, sourceid, sourceurl, type, rawformat, license, importdate, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Datasource, rec.SourceInterface, rec.SourceID, rec.SourceURL,
		rec.Type, rec.Format, rec.License, rec.ImportedAt.UTC(), rec.Payload,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert raw record for %s: %w", rec.SourceID, err)
	}
	return rec.ID, nil
}

func (s *SQLStore) LastSync(ctx context.Context, source string) (time.Time, error) {
	var unix int64
	err := s.db.QueryRowContext(
		ctx,
		s.dialect.Rebind("SELECT last_sync_unix FROM sync_checkpoints WHERE source = ?"),
		source,
	).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read checkpoint for %s: %w", source, err)
	}
	return time.Unix(0, unix).UTC(), nil
}

func (s *SQLStore) SaveSync(ctx context.Context, source string, t time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		s.dialect.Rebind("UPDATE sync_checkpoints SET last_sync_unix = ? WHERE source = ?"),
		t.UnixNano(), source,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", source, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(
			ctx,
			s.dialect.Rebind("INSERT INTO sync_checkpoints (source, last_sync_unix) VALUES (?, ?)"),
			source, t.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to save checkpoint for %s: %w", source, err)
		}
	}
	return tx.Commit()
}
