package sqldb

import (
	"context"
	"database/sql"
)

// executor is the subset of methods shared by *sql.Conn and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

var (
	_ executor = (*sql.Conn)(nil)
	_ executor = (*sql.Tx)(nil)
)

// session is a single backend session owned by one Conn.
type session interface {
	executor

	BeginTx(ctx context.Context, opts *sql.TxOptions) (txSession, error)
	PingContext(ctx context.Context) error
	Close() error
}

type txSession interface {
	executor

	Commit() error
	Rollback() error
}

var _ txSession = (*sql.Tx)(nil)

type sqlSession struct {
	conn *sql.Conn
}

func (s *sqlSession) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *sqlSession) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *sqlSession) BeginTx(ctx context.Context, opts *sql.TxOptions) (txSession, error) {
	tx, err := s.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlSession) PingContext(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *sqlSession) Close() error {
	return s.conn.Close()
}
