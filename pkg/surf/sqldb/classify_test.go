package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err        error
		wantKind   Kind
		wantReason Reason
		wantCode   string
	}{
		"postgres unique violation": {
			err:      &pq.Error{Code: "23505", Message: "duplicate key value"},
			wantKind: ConstraintViolation,
			wantCode: "23505",
		},
		"postgres foreign key violation": {
			err:      &pq.Error{Code: "23503"},
			wantKind: ConstraintViolation,
			wantCode: "23503",
		},
		"postgres serialization failure": {
			err:      &pq.Error{Code: "40001"},
			wantKind: TransactionConflict,
			wantCode: "40001",
		},
		"postgres deadlock": {
			err:      &pq.Error{Code: "40P01"},
			wantKind: TransactionConflict,
			wantCode: "40P01",
		},
		"postgres syntax error": {
			err:        &pq.Error{Code: "42601"},
			wantKind:   StatementError,
			wantReason: ReasonSyntax,
			wantCode:   "42601",
		},
		"postgres bad password": {
			err:      &pq.Error{Code: "28P01"},
			wantKind: ConnectionFailure,
			wantCode: "28P01",
		},
		"postgres statement timeout": {
			err:        &pq.Error{Code: "57014"},
			wantKind:   StatementError,
			wantReason: ReasonTimeout,
			wantCode:   "57014",
		},
		"postgres internal error": {
			err:      &pq.Error{Code: "XX000"},
			wantKind: Unknown,
			wantCode: "XX000",
		},
		"wrapped postgres error": {
			err:      fmt.Errorf("cannot insert: %w", &pq.Error{Code: "23514"}),
			wantKind: ConstraintViolation,
			wantCode: "23514",
		},
		"mysql duplicate entry": {
			err:      &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
			wantKind: ConstraintViolation,
			wantCode: "1062",
		},
		"mysql deadlock": {
			err:      &mysql.MySQLError{Number: 1213},
			wantKind: TransactionConflict,
			wantCode: "1213",
		},
		"mysql syntax error": {
			err:        &mysql.MySQLError{Number: 1064},
			wantKind:   StatementError,
			wantReason: ReasonSyntax,
			wantCode:   "1064",
		},
		"mysql access denied": {
			err:      &mysql.MySQLError{Number: 1045},
			wantKind: ConnectionFailure,
			wantCode: "1045",
		},
		"mysql unknown error": {
			err:      &mysql.MySQLError{Number: 1999},
			wantKind: Unknown,
			wantCode: "1999",
		},
		"deadline": {
			err:        context.DeadlineExceeded,
			wantKind:   StatementError,
			wantReason: ReasonTimeout,
		},
		"transaction done": {
			err:        sql.ErrTxDone,
			wantKind:   StatementError,
			wantReason: ReasonScopeClosed,
		},
		"bad connection": {
			err:        driver.ErrBadConn,
			wantKind:   ConnectionFailure,
			wantReason: ReasonClosed,
		},
		"network error": {
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			wantKind: ConnectionFailure,
		},
		"anything else": {
			err:      errors.New("boom"),
			wantKind: Unknown,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Kind != tc.wantKind {
				t.Errorf("want %s, got %s", tc.wantKind, got.Kind)
			}
			if got.Reason != tc.wantReason {
				t.Errorf("want reason %q, got %q", tc.wantReason, got.Reason)
			}
			if got.Code != tc.wantCode {
				t.Errorf("want code %q, got %q", tc.wantCode, got.Code)
			}
			if got.Err == nil {
				t.Errorf("original error dropped")
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	first := Classify(&pq.Error{Code: "23505"})
	if second := Classify(first); second != first {
		t.Fatalf("classified error was classified again: %#v", second)
	}
	wrapped := fmt.Errorf("store: %w", first)
	if got := Classify(wrapped); got != first {
		t.Fatalf("wrapped classified error was classified again: %#v", got)
	}
	if KindOf(wrapped) != ConstraintViolation {
		t.Fatalf("unexpected kind: %s", KindOf(wrapped))
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("nil error classified")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:    StatementError,
		Reason:  ReasonSyntax,
		Code:    "42601",
		Message: "syntax error at or near \"SELEC\"",
	}
	want := `statement error (syntax) [42601]: syntax error at or near "SELEC"`
	if got := err.Error(); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}
