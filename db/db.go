// Package db provides the persistence component of the oppsync relay:
// the opportunity-to-project mapping store and the webhook delivery
// audit log.
//
// The database backend is sqlite to allow single-binary deployment.
// Each query below is held in an sql file in the `sql` directory which
// can be run directly on the sqlite command line; the files double as
// Go prepared statements through the parameterization scheme set out
// in parameterize.go.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

//go:embed sql
var SQLEmbeddedFS embed.FS

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt expecting the
// provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs determines if the number of arguments provided to a parameterizedStmt is
// as expected. This check could be more thorough.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	return nil
}

// DB provides a wrapper around the sql.DB connection for application-specific db operations.
type DB struct {
	*sqlx.DB
	sqlFS fs.FS

	// Prepared statements.
	mappingGetStmt  *parameterizedStmt
	mappingPutStmt  *parameterizedStmt
	mappingsGetStmt *parameterizedStmt

	deliveryInsertStmt *parameterizedStmt
	deliveriesGetStmt  *parameterizedStmt
}

// NewConnection creates a new connection to an SQLite database at the given path. Call
// InitSchema before use: it loads the schema and prepares the named statements, which
// need the tables to exist.
func NewConnection(dbPath string, sqlDir fs.FS) (*DB, error) {

	// dataSource is the default setting for file-based databases.
	dataSource := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)

	// for in-memory test databases, check the necessary cached setting is used.
	if strings.Contains(dbPath, ":memory:") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain '?cache=shared'", dbPath)
		}
		dataSource = dbPath
	}
	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}

	if err := dbDB.Ping(); err != nil {
		return nil, err
	}

	// Wrap the standard library *sql.DB with sqlx.
	db := &DB{
		DB:    sqlx.NewDb(dbDB, "sqlite"),
		sqlFS: sqlDir,
	}
	return db, nil
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently. The named statements are prepared afterwards since sqlite
// validates them against the tables.
func (db *DB) InitSchema(fileFS fs.FS, filePath string) error {

	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(context.Background(), string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}

	if err := db.prepareNamedStatements(); err != nil {
		return fmt.Errorf("could not prepare named statements: %w", err)
	}
	return nil
}

// prepareNamedStatements prepares all the named statements for this database connection.
func (db *DB) prepareNamedStatements() error {
	var err error

	// Mappings.
	db.mappingGetStmt, err = db.prepNamedStatement(db.sqlFS, "mapping_get.sql")
	if err != nil {
		return fmt.Errorf("mapping get statement error: %w", err)
	}
	db.mappingPutStmt, err = db.prepNamedStatement(db.sqlFS, "mapping_put.sql")
	if err != nil {
		return fmt.Errorf("mapping put statement error: %w", err)
	}
	db.mappingsGetStmt, err = db.prepNamedStatement(db.sqlFS, "mappings.sql")
	if err != nil {
		return fmt.Errorf("mappings list statement error: %w", err)
	}

	// Deliveries.
	db.deliveryInsertStmt, err = db.prepNamedStatement(db.sqlFS, "delivery_insert.sql")
	if err != nil {
		return fmt.Errorf("delivery insert statement error: %w", err)
	}
	db.deliveriesGetStmt, err = db.prepNamedStatement(db.sqlFS, "deliveries.sql")
	if err != nil {
		return fmt.Errorf("deliveries list statement error: %w", err)
	}

	return nil
}

// prepNamedStatement prepares the SQL queries.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// logQuery is for helping debug SQL issues.
func logQuery(name string, stmt *parameterizedStmt, args map[string]any, err error) {
	const debug = false
	if !debug {
		return
	}
	log.Printf(
		"sql: %s\n---\nquery:\n%q\n---\nargs: %#v\nerror: %v\n",
		name,
		stmt.QueryString,
		args,
		err,
	)
}
