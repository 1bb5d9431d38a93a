package sqldb

import (
	"context"
	"database/sql"

	"github.com/husio/sqlsafe/pkg/surf"
)

// tracedSession measures every backend call using the trace attached to
// the context, if any.
type tracedSession struct {
	prefix string
	sess   session
}

func traceSession(sess session, prefix string) session {
	return &tracedSession{prefix: prefix, sess: sess}
}

func (ts *tracedSession) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	span := surf.CurrentTrace(ctx).Begin(
		ts.prefix+" exec",
		"sql", query)

	result, err := ts.sess.ExecContext(ctx, query, args...)
	finishSpan(span, err)
	return result, err
}

func (ts *tracedSession) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	span := surf.CurrentTrace(ctx).Begin(
		ts.prefix+" query",
		"sql", query)

	rows, err := ts.sess.QueryContext(ctx, query, args...)
	finishSpan(span, err)
	return rows, err
}

func (ts *tracedSession) BeginTx(ctx context.Context, opts *sql.TxOptions) (txSession, error) {
	span := surf.CurrentTrace(ctx).Begin(ts.prefix + " transaction")

	tx, err := ts.sess.BeginTx(ctx, opts)
	if err != nil {
		span.Finish("err", err.Error())
		return nil, err
	}
	return &tracedTx{root: span, tx: tx}, nil
}

func (ts *tracedSession) PingContext(ctx context.Context) error {
	span := surf.CurrentTrace(ctx).Begin(ts.prefix + " ping")
	err := ts.sess.PingContext(ctx)
	finishSpan(span, err)
	return err
}

func (ts *tracedSession) Close() error {
	return ts.sess.Close()
}

type tracedTx struct {
	root surf.TraceSpan
	tx   txSession
}

func (ttx *tracedTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	span := ttx.root.Begin("exec",
		"sql", query)

	result, err := ttx.tx.ExecContext(ctx, query, args...)
	finishSpan(span, err)
	return result, err
}

func (ttx *tracedTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	span := ttx.root.Begin("query",
		"sql", query)

	rows, err := ttx.tx.QueryContext(ctx, query, args...)
	finishSpan(span, err)
	return rows, err
}

func (ttx *tracedTx) Commit() error {
	if err := ttx.tx.Commit(); err != nil {
		ttx.root.Finish(
			"err", err.Error(),
			"end", "commit")
		return err
	}
	ttx.root.Finish("end", "commit")
	return nil
}

func (ttx *tracedTx) Rollback() error {
	if err := ttx.tx.Rollback(); err != nil {
		ttx.root.Finish(
			"err", err.Error(),
			"end", "rollback")
		return err
	}
	ttx.root.Finish("end", "rollback")
	return nil
}

func finishSpan(span surf.TraceSpan, err error) {
	if err != nil {
		span.Finish("err", err.Error())
	} else {
		span.Finish()
	}
}
