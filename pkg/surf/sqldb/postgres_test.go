package sqldb

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

// createPostgresConn connects to a freshly created database on a local
// PostgreSQL server. The test is skipped when no server is available.
func createPostgresConn(t *testing.T) *Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rootConf := ConnectionConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		Database: "postgres",
		User:     "postgres",
		SSLMode:  "disable",
		Timeout:  2 * time.Second,
	}
	testConf := rootConf
	testConf.Database = fmt.Sprintf("test_database_%d_%d", time.Now().UnixNano(), rand.Intn(1000000))

	root, err := Open(ctx, rootConf)
	if err != nil {
		t.Skipf("cannot connect to postgres: %s", err)
	}
	// database name is generated and cannot be passed as a parameter
	if _, err := root.Exec(ctx, MustBind("CREATE DATABASE "+testConf.Database)); err != nil {
		root.Close()
		t.Fatalf("cannot create database: %s", err)
	}

	c, err := Open(ctx, testConf)
	if err != nil {
		root.Close()
		t.Fatalf("cannot connect to test database: %s", err)
	}
	t.Cleanup(func() {
		c.Close()
		if _, err := root.Exec(context.Background(), MustBind("DROP DATABASE "+testConf.Database)); err != nil {
			t.Errorf("cannot drop database: %s", err)
		}
		root.Close()
	})
	return c
}

func TestPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := createPostgresConn(t)

	ensureSchema(t, c, `
		CREATE TABLE accounts (
			account_id SERIAL PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			balance    NUMERIC(12, 2) NOT NULL CHECK (balance >= 0),
			active     BOOLEAN NOT NULL DEFAULT true
		)`)

	if v, err := c.ServerVersion(ctx); err != nil || v == "" {
		t.Fatalf("cannot read version: %q, %v", v, err)
	}

	insert, err := MustBind(`INSERT INTO accounts (email, balance) VALUES (:email, :balance)`,
		Named{"email": "alice@example.com", "balance": "10.50"}).WithGeneratedID("account_id")
	if err != nil {
		t.Fatalf("cannot request generated id: %s", err)
	}
	res, err := c.Exec(ctx, insert)
	if err != nil {
		t.Fatalf("cannot insert: %s", err)
	}
	if id, err := res.ID(); err != nil || id != 1 {
		t.Fatalf("want id 1, got %d, %v", id, err)
	}

	plain, err := c.Exec(ctx, MustBind(`INSERT INTO accounts (email, balance) VALUES (?, ?)`, "bob@example.com", 1))
	if err != nil {
		t.Fatalf("cannot insert: %s", err)
	}
	if _, err := plain.ID(); !errors.Is(err, ErrNoID) {
		t.Fatalf("want no id without identity column, got %v", err)
	}

	commented, err := MustBind("INSERT INTO accounts (email, balance) VALUES (?, ?) -- trailing note",
		"dave@example.com", 2).WithGeneratedID("account_id")
	if err != nil {
		t.Fatalf("cannot request generated id: %s", err)
	}
	res, err = c.Exec(ctx, commented)
	if err != nil {
		t.Fatalf("cannot insert: %s", err)
	}
	if id, err := res.ID(); err != nil || id != 3 || res.RowsAffected() != 1 {
		t.Fatalf("want id 3 of one row, got %d, %v, %d rows", id, err, res.RowsAffected())
	}

	row, err := mustQuery(t, c, `SELECT account_id, email, balance, active FROM accounts WHERE email = :e OR email = :e`,
		Named{"e": "alice@example.com"}).One()
	if err != nil {
		t.Fatalf("cannot read: %s", err)
	}
	if id, ok := row.Get(0).Int(); !ok || id != 1 {
		t.Errorf("unexpected id: %s", row.Get(0))
	}
	if balance, ok := row.Get(2).Text(); !ok || balance != "10.50" {
		t.Errorf("want exact decimal text, got %s %s", row.Get(2).Kind(), row.Get(2))
	}
	if active, ok := row.Get(3).Bool(); !ok || !active {
		t.Errorf("unexpected active flag: %s", row.Get(3))
	}

	_, err = c.Exec(ctx, MustBind(`INSERT INTO accounts (email, balance) VALUES (?, ?)`, "alice@example.com", 0))
	if !IsKind(err, ConstraintViolation) {
		t.Fatalf("want unique violation, got %v", err)
	}
	_, err = c.Exec(ctx, MustBind(`UPDATE accounts SET balance = balance - ?`, 100))
	if !IsKind(err, ConstraintViolation) {
		t.Fatalf("want check violation, got %v", err)
	}

	// A failed statement aborts the transaction. The commit is then
	// refused and the scope ends rolled back.
	tx, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("cannot begin: %s", err)
	}
	if _, err := tx.Exec(ctx, MustBind(`INSERT INTO accounts (email, balance) VALUES (?, ?)`, "carol@example.com", 5)); err != nil {
		t.Fatalf("cannot insert: %s", err)
	}
	if _, err := tx.Exec(ctx, MustBind(`INSERT INTO accounts (email, balance) VALUES (?, ?)`, "carol@example.com", 5)); !IsKind(err, ConstraintViolation) {
		t.Fatalf("want unique violation, got %v", err)
	}
	if err := tx.Commit(); !IsKind(err, TransactionConflict) {
		t.Fatalf("want transaction conflict, got %v", err)
	}
	if tx.State() != TxRolledBack {
		t.Fatalf("want rolled back, got %s", tx.State())
	}
	if n := countRows(t, c, "accounts"); n != 3 {
		t.Fatalf("want 3 accounts, got %d", n)
	}
}
