package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

type Dialect struct {
	Name   string
	Driver string

	placeholder func(n int) string
	// forUpdate turns a point select into a locking read inside a transaction.
	forUpdate func(query string) string
	schema    []string
}

var dialects = map[string]Dialect{
	"postgres": {
		Name:        "postgres",
		Driver:      "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		forUpdate:   func(q string) string { return q + " FOR UPDATE" },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS entities (
				entity_type TEXT NOT NULL,
				id TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				sync_source_interface TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT FALSE,
				data JSONB NOT NULL,
				last_change TIMESTAMPTZ,
				PRIMARY KEY (entity_type, id)
			)`,
			`CREATE INDEX IF NOT EXISTS entities_provenance_idx
				ON entities (entity_type, source, sync_source_interface)`,
			`CREATE TABLE IF NOT EXISTS raw_records (
				id TEXT PRIMARY KEY,
				datasource TEXT NOT NULL,
				sourceinterface TEXT NOT NULL,
				sourceid TEXT NOT NULL,
				sourceurl TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL DEFAULT '',
				rawformat TEXT NOT NULL DEFAULT '',
				license TEXT NOT NULL DEFAULT '',
				importdate TIMESTAMPTZ NOT NULL,
				raw BYTEA
			)`,
			`CREATE TABLE IF NOT EXISTS sync_checkpoints (
				source TEXT PRIMARY KEY,
				last_sync_unix BIGINT NOT NULL
			)`,
		},
	},
	"sqlite": {
		Name:        "sqlite",
		Driver:      "sqlite",
		placeholder: func(int) string { return "?" },
		forUpdate:   func(q string) string { return q },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS entities (
				entity_type TEXT NOT NULL,
				id TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				sync_source_interface TEXT NOT NULL DEFAULT '',
				active INTEGER NOT NULL DEFAULT 0,
				data TEXT NOT NULL,
				last_change TIMESTAMP,
				PRIMARY KEY (entity_type, id)
			)`,
			`CREATE INDEX IF NOT EXISTS entities_provenance_idx
				ON entities (entity_type, source, sync_source_interface)`,
			`CREATE TABLE IF NOT EXISTS raw_records (
				id TEXT PRIMARY KEY,
				datasource TEXT NOT NULL,
				sourceinterface TEXT NOT NULL,
				sourceid TEXT NOT NULL,
				sourceurl TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL DEFAULT '',
				rawformat TEXT NOT NULL DEFAULT '',
				license TEXT NOT NULL DEFAULT '',
				importdate TIMESTAMP NOT NULL,
				raw BLOB
			)`,
			`CREATE TABLE IF NOT EXISTS sync_checkpoints (
				source TEXT PRIMARY KEY,
				last_sync_unix INTEGER NOT NULL
			)`,
		},
	},
	"mysql": {
		Name:        "mysql",
		Driver:      "mysql",
		placeholder: func(int) string { return "?" },
		forUpdate:   func(q string) string { return q + " FOR UPDATE" },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS entities (
				entity_type VARCHAR(64) NOT NULL,
				id VARCHAR(255) NOT NULL,
				source VARCHAR(128) NOT NULL DEFAULT '',
				sync_source_interface VARCHAR(255) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT FALSE,
				data JSON NOT NULL,
				last_change DATETIME(6) NULL,
				PRIMARY KEY (entity_type, id),
				INDEX entities_provenance_idx (entity_type, source, sync_source_interface)
			)`,
			`CREATE TABLE IF NOT EXISTS raw_records (
				id VARCHAR(36) PRIMARY KEY,
				datasource VARCHAR(128) NOT NULL,
				sourceinterface VARCHAR(255) NOT NULL,
				sourceid VARCHAR(255) NOT NULL,
				sourceurl TEXT,
				type VARCHAR(64) NOT NULL DEFAULT '',
				rawformat VARCHAR(32) NOT NULL DEFAULT '',
				license VARCHAR(64) NOT NULL DEFAULT '',
				importdate DATETIME(6) NOT NULL,
				raw LONGBLOB
			)`,
			`CREATE TABLE IF NOT EXISTS sync_checkpoints (
				source VARCHAR(255) PRIMARY KEY,
				last_sync_unix BIGINT NOT NULL
			)`,
		},
	},
	"sqlserver": {
		Name:        "sqlserver",
		Driver:      "sqlserver",
		placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		forUpdate: func(q string) string {
			return strings.Replace(q, " FROM entities ", " FROM entities WITH (UPDLOCK, HOLDLOCK) ", 1)
		},
		schema: []string{
			`IF OBJECT_ID('entities', 'U') IS NULL CREATE TABLE entities (
				entity_type NVARCHAR(64) NOT NULL,
				id NVARCHAR(255) NOT NULL,
				source NVARCHAR(128) NOT NULL DEFAULT '',
				sync_source_interface NVARCHAR(255) NOT NULL DEFAULT '',
				active BIT NOT NULL DEFAULT 0,
				data NVARCHAR(MAX) NOT NULL,
				last_change DATETIME2 NULL,
				PRIMARY KEY (entity_type, id)
			)`,
			`IF NOT EXISTS (SELECT * FROM sys.indexes WHERE name = 'entities_provenance_idx')
				CREATE INDEX entities_provenance_idx ON entities (entity_type, source, sync_source_interface)`,
			`IF OBJECT_ID('raw_records', 'U') IS NULL CREATE TABLE raw_records (
				id NVARCHAR(36) PRIMARY KEY,
				datasource NVARCHAR(128) NOT NULL,
				sourceinterface NVARCHAR(255) NOT NULL,
				sourceid NVARCHAR(255) NOT NULL,
				sourceurl NVARCHAR(MAX),
				type NVARCHAR(64) NOT NULL DEFAULT '',
				rawformat NVARCHAR(32) NOT NULL DEFAULT '',
				license NVARCHAR(64) NOT NULL DEFAULT '',
				importdate DATETIME2 NOT NULL,
				raw VARBINARY(MAX)
			)`,
			`IF OBJECT_ID('sync_checkpoints', 'U') IS NULL CREATE TABLE sync_checkpoints (
				source NVARCHAR(255) PRIMARY KEY,
				last_sync_unix BIGINT NOT NULL
			)`,
		},
	},
}

func LookupDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgresql", "pg":
		name = "postgres"
	case "mssql":
		name = "sqlserver"
	case "sqlite3":
		name = "sqlite"
	}
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported database driver: %s", name)
	}
	return d, nil
}

// Rebind rewrites ? placeholders into the dialect's syntax.
func (d Dialect) Rebind(query string) string {
	if d.placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}
