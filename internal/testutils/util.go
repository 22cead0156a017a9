// SPDX-License-Identifier: Apache-2.0

// Package testutils provides the shared postgres testcontainer fixture used
// by integration tests across the engine's packages: one container per test
// binary, one fresh database per test.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/geocoug/pg-upsert/internal/pgconn"
)

const defaultPostgresVersion = "16.3"

var tConnStr string

// SharedTestMain starts a single postgres container for every test in a
// package. Each test then connects and creates its own database so tests
// don't interfere with each other.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		os.Exit(1)
	}

	tConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %v", err)
	}

	os.Exit(exitCode)
}

// WithSession creates a fresh database in the shared container, opens a
// pgconn.Conn against it with an open transaction, and passes it to fn. The
// connection, and with it any uncommitted transaction, is closed when the
// test ends; the database itself is not dropped.
func WithSession(t *testing.T, fn func(conn *pgconn.Conn, connStr string)) {
	t.Helper()
	ctx := context.Background()

	_, connStr, _ := setupTestDatabase(t)

	conn, err := pgconn.Open(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	fn(conn, connStr)
}

// SeedBooksScenario creates the staging/base schema pair and the
// genres/authors/books/book_authors tables used throughout the engine's
// integration tests. Only the base tables keep their constraints; the
// staging tables accept any row, so tests can stage rows that QA must flag.
func SeedBooksScenario(t *testing.T, db *sql.DB, baseSchema, stagingSchema string) {
	t.Helper()
	ctx := context.Background()

	exec := func(q string) {
		t.Helper()
		if _, err := db.ExecContext(ctx, q); err != nil {
			t.Fatalf("seeding scenario: %v\nquery: %s", err, q)
		}
	}

	exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(baseSchema)))
	exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(stagingSchema)))

	for _, schema := range []string{baseSchema, stagingSchema} {
		q := pq.QuoteIdentifier(schema)
		exec(fmt.Sprintf(`CREATE TABLE %s.genres (
			genre_id   INTEGER PRIMARY KEY,
			genre_name TEXT NOT NULL
		)`, q))
		exec(fmt.Sprintf(`CREATE TABLE %s.authors (
			author_id   INTEGER PRIMARY KEY,
			author_name TEXT NOT NULL
		)`, q))
		exec(fmt.Sprintf(`CREATE TABLE %s.books (
			book_id  INTEGER PRIMARY KEY,
			title    TEXT NOT NULL,
			genre_id INTEGER,
			pages    INTEGER CHECK (pages > 0)
		)`, q))
		exec(fmt.Sprintf(`CREATE TABLE %s.book_authors (
			book_id   INTEGER NOT NULL,
			author_id INTEGER NOT NULL,
			PRIMARY KEY (book_id, author_id)
		)`, q))
	}

	for _, stmt := range []string{
		`ALTER TABLE %s.genres DROP CONSTRAINT genres_pkey`,
		`ALTER TABLE %s.genres ALTER COLUMN genre_id DROP NOT NULL, ALTER COLUMN genre_name DROP NOT NULL`,
		`ALTER TABLE %s.authors DROP CONSTRAINT authors_pkey`,
		`ALTER TABLE %s.authors ALTER COLUMN author_id DROP NOT NULL, ALTER COLUMN author_name DROP NOT NULL`,
		`ALTER TABLE %s.books DROP CONSTRAINT books_pkey, DROP CONSTRAINT books_pages_check`,
		`ALTER TABLE %s.books ALTER COLUMN book_id DROP NOT NULL, ALTER COLUMN title DROP NOT NULL`,
		`ALTER TABLE %s.book_authors DROP CONSTRAINT book_authors_pkey`,
		`ALTER TABLE %s.book_authors ALTER COLUMN book_id DROP NOT NULL, ALTER COLUMN author_id DROP NOT NULL`,
	} {
		exec(fmt.Sprintf(stmt, pq.QuoteIdentifier(stagingSchema)))
	}

	exec(fmt.Sprintf(`ALTER TABLE %s.books ADD CONSTRAINT books_genre_fk
		FOREIGN KEY (genre_id) REFERENCES %s.genres (genre_id)`,
		pq.QuoteIdentifier(baseSchema), pq.QuoteIdentifier(baseSchema)))
	exec(fmt.Sprintf(`ALTER TABLE %s.book_authors ADD CONSTRAINT book_authors_book_fk
		FOREIGN KEY (book_id) REFERENCES %s.books (book_id)`,
		pq.QuoteIdentifier(baseSchema), pq.QuoteIdentifier(baseSchema)))
	exec(fmt.Sprintf(`ALTER TABLE %s.book_authors ADD CONSTRAINT book_authors_author_fk
		FOREIGN KEY (author_id) REFERENCES %s.authors (author_id)`,
		pq.QuoteIdentifier(baseSchema), pq.QuoteIdentifier(baseSchema)))
}

func setupTestDatabase(t *testing.T) (*sql.DB, string, string) {
	t.Helper()
	ctx := context.Background()

	tDB, err := sql.Open("postgres", tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := tDB.Close(); err != nil {
			t.Fatalf("failed to close database connection: %v", err)
		}
	})

	dbName := randomDBName()

	if _, err := tDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("failed to close database connection: %v", err)
		}
	})

	return db, connStr, dbName
}

func randomDBName() string {
	const length = 15
	const charset = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))] // #nosec G404
	}
	return "pgu_" + string(b)
}
