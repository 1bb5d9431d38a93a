package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classify maps a backend specific failure into the Kind taxonomy. It is a
// pure function: it neither logs nor retains the error. Already classified
// errors are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: StatementError, Reason: ReasonTimeout, Message: err.Error(), Err: err}
	case errors.Is(err, sql.ErrTxDone):
		return &Error{Kind: StatementError, Reason: ReasonScopeClosed, Message: err.Error(), Err: err}
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn):
		return &Error{Kind: ConnectionFailure, Reason: ReasonClosed, Message: err.Error(), Err: err}
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		e := &Error{Kind: ConnectionFailure, Message: err.Error(), Err: err}
		if netErr.Timeout() {
			e.Reason = ReasonTimeout
		}
		return e
	}

	return &Error{Kind: Unknown, Message: err.Error(), Err: err}
}

// classifyPostgres maps SQLSTATE codes. Classes are described in
// https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifyPostgres(err *pq.Error) *Error {
	e := &Error{
		Code:    string(err.Code),
		Message: err.Message,
		Err:     err,
	}

	switch err.Code {
	case "57014": // query_canceled
		e.Kind, e.Reason = StatementError, ReasonTimeout
		return e
	case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		e.Kind = ConnectionFailure
		return e
	}

	switch err.Code.Class() {
	case "08", "28", "3D", "53":
		e.Kind = ConnectionFailure
	case "23":
		e.Kind = ConstraintViolation
	case "40":
		e.Kind = TransactionConflict
	case "42":
		e.Kind, e.Reason = StatementError, ReasonSyntax
	case "0A":
		e.Kind, e.Reason = StatementError, ReasonUnsupported
	case "22", "25", "26", "34":
		e.Kind = StatementError
	default:
		e.Kind = Unknown
	}
	return e
}

func classifyMySQL(err *mysql.MySQLError) *Error {
	e := &Error{
		Code:    strconv.Itoa(int(err.Number)),
		Message: err.Message,
		Err:     err,
	}

	switch err.Number {
	case 1040, 1044, 1045, 1049, 1129, 1130, 1203, 1226:
		e.Kind = ConnectionFailure
	case 1022, 1048, 1062, 1169, 1216, 1217, 1364, 1451, 1452, 1557, 1586, 3819:
		e.Kind = ConstraintViolation
	case 1205, 1213:
		e.Kind = TransactionConflict
	case 1064, 1146, 1054, 1052, 1050, 1051, 1060, 1149:
		e.Kind, e.Reason = StatementError, ReasonSyntax
	case 1136, 1210, 1264, 1292, 1366, 1406:
		e.Kind = StatementError
	case 1317, 3024:
		e.Kind, e.Reason = StatementError, ReasonTimeout
	default:
		e.Kind = Unknown
	}
	return e
}

func classifySQLite(err *sqlite.Error) *Error {
	code := err.Code()
	e := &Error{
		Code:    strconv.Itoa(code),
		Message: err.Error(),
		Err:     err,
	}

	// extended result codes carry the primary code in the lowest byte
	switch code & 0xff {
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
		e.Kind = ConnectionFailure
	case sqlite3.SQLITE_CONSTRAINT:
		e.Kind = ConstraintViolation
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		e.Kind = TransactionConflict
	case sqlite3.SQLITE_ERROR:
		e.Kind, e.Reason = StatementError, ReasonSyntax
	case sqlite3.SQLITE_RANGE:
		e.Kind, e.Reason = StatementError, ReasonMalformedBinding
	case sqlite3.SQLITE_INTERRUPT:
		e.Kind, e.Reason = StatementError, ReasonTimeout
	case sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_READONLY:
		e.Kind = StatementError
	default:
		e.Kind = Unknown
	}
	return e
}
