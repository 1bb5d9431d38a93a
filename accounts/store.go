package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/husio/sqlsafe/pkg/surf"
	"github.com/husio/sqlsafe/pkg/surf/sqldb"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	UserID  int64
	Name    string
	Email   string
	Created time.Time
}

// NewUser describes an account to be created.
type NewUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

var (
	ErrNotFound   = errors.New("not found")
	ErrConstraint = errors.New("constraint")
)

// Store keeps user accounts and named counters. It uses a single
// connection and is not safe for concurrent use.
type Store struct {
	conn *sqldb.Conn
}

func NewStore(conn *sqldb.Conn) *Store {
	return &Store{conn: conn}
}

// Register creates a new user. The password is stored as a bcrypt hash.
func (s *Store) Register(ctx context.Context, u NewUser) (*User, error) {
	return s.insertUser(ctx, s.conn.Exec, u)
}

type execFunc func(context.Context, *sqldb.Stmt) (*sqldb.MutationResult, error)

func (s *Store) insertUser(ctx context.Context, exec execFunc, u NewUser) (*User, error) {
	if u.Name == "" || u.Email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrConstraint)
	}
	passhash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("cannot hash password: %w", err)
	}

	st, err := sqldb.MustBind(`
		INSERT INTO users (name, email, password)
		VALUES (:name, :email, :password)
	`, sqldb.Named{
		"name":     u.Name,
		"email":    u.Email,
		"password": string(passhash),
	}).WithGeneratedID("user_id")
	if err != nil {
		return nil, err
	}
	res, err := exec(ctx, st)
	if err != nil {
		return nil, castErr(err)
	}
	id, err := res.ID()
	if err != nil {
		return nil, fmt.Errorf("cannot read user id: %w", err)
	}
	return &User{UserID: id, Name: u.Name, Email: u.Email}, nil
}

// Authenticate returns the user with given email if the password matches.
// ErrNotFound is returned for an unknown email and for a wrong password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	rows, err := s.conn.Query(ctx, sqldb.MustBind(`
		SELECT password
		FROM users
		WHERE email = ?
	`, email))
	if err != nil {
		return nil, castErr(err)
	}
	row, err := rows.One()
	if err != nil {
		return nil, castErr(err)
	}
	passhash, ok := row.Get(0).Text()
	if !ok {
		return nil, fmt.Errorf("unexpected password value: %s", row.Get(0).Kind())
	}

	switch err := bcrypt.CompareHashAndPassword([]byte(passhash), []byte(password)); err {
	case nil:
		// all good
	case bcrypt.ErrMismatchedHashAndPassword:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("bcrypt: %w", err)
	}
	return s.UserByEmail(ctx, email)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	rows, err := s.conn.Query(ctx, sqldb.MustBind(`
		SELECT user_id, name, email, created
		FROM users
		WHERE email = :email
	`, sqldb.Named{"email": email}))
	if err != nil {
		return nil, castErr(err)
	}
	row, err := rows.One()
	if err != nil {
		return nil, castErr(err)
	}
	return userFromRow(row)
}

// ListUsers returns a single page of users, oldest first.
func (s *Store) ListUsers(ctx context.Context, page, pageSize int) ([]*User, *surf.Paginator, error) {
	var (
		users []*User
		pag   *surf.Paginator
	)
	err := sqldb.InTx(ctx, s.conn, func(tx *sqldb.Tx) error {
		rows, err := tx.Query(ctx, sqldb.MustBind(`SELECT COUNT(*) AS total FROM users`))
		if err != nil {
			return err
		}
		row, err := rows.One()
		if err != nil {
			return err
		}
		total, err := intValue(row, "total")
		if err != nil {
			return err
		}
		pag = surf.NewPaginator(page, pageSize, total)

		rows, err = tx.Query(ctx, sqldb.MustBind(`
			SELECT user_id, name, email, created
			FROM users
			ORDER BY user_id
			LIMIT :limit OFFSET :offset
		`, sqldb.Named{"limit": pag.PageSize, "offset": pag.Offset()}))
		if err != nil {
			return err
		}
		all, err := rows.All()
		if err != nil {
			return err
		}
		users = make([]*User, 0, len(all))
		for _, row := range all {
			u, err := userFromRow(row)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, nil, castErr(err)
	}
	return users, pag, nil
}

// Import creates all given users in a single transaction. Either all of
// them are created or none is.
func (s *Store) Import(ctx context.Context, users []NewUser) ([]*User, error) {
	created := make([]*User, 0, len(users))
	err := sqldb.InTx(ctx, s.conn, func(tx *sqldb.Tx) error {
		for _, u := range users {
			user, err := s.insertUser(ctx, tx.Exec, u)
			if err != nil {
				return fmt.Errorf("cannot import %q: %w", u.Email, err)
			}
			created = append(created, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Increment adds delta to the named counter, creating it when missing, and
// returns the new value. A counter never goes below zero; such an update
// fails with ErrConstraint.
func (s *Store) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	if delta == 0 {
		return s.Counter(ctx, name)
	}

	var value int64
	err := sqldb.InTx(ctx, s.conn, func(tx *sqldb.Tx) error {
		res, err := tx.Exec(ctx, sqldb.MustBind(`
			UPDATE counters
			SET value = value + :delta
			WHERE name = :name
		`, sqldb.Named{"name": name, "delta": delta}))
		if err != nil {
			return castErr(err)
		}
		if res.RowsAffected() == 0 {
			_, err := tx.Exec(ctx, sqldb.MustBind(`
				INSERT INTO counters (name, value)
				VALUES (?, ?)
			`, name, delta))
			if err != nil {
				return castErr(err)
			}
		}

		rows, err := tx.Query(ctx, sqldb.MustBind(`SELECT value FROM counters WHERE name = ?`, name))
		if err != nil {
			return castErr(err)
		}
		row, err := rows.One()
		if err != nil {
			return castErr(err)
		}
		value, err = intValue(row, "value")
		return err
	})
	return value, err
}

func (s *Store) Counter(ctx context.Context, name string) (int64, error) {
	rows, err := s.conn.Query(ctx, sqldb.MustBind(`SELECT value FROM counters WHERE name = ?`, name))
	if err != nil {
		return 0, castErr(err)
	}
	row, err := rows.One()
	if err != nil {
		return 0, castErr(err)
	}
	return intValue(row, "value")
}

func userFromRow(row sqldb.Row) (*User, error) {
	var (
		u   User
		err error
	)
	if u.UserID, err = intValue(row, "user_id"); err != nil {
		return nil, err
	}
	if u.Name, err = textValue(row, "name"); err != nil {
		return nil, err
	}
	if u.Email, err = textValue(row, "email"); err != nil {
		return nil, err
	}
	v, _ := row.Lookup("created")
	if t, ok := v.Time(); ok {
		u.Created = t
	}
	return &u, nil
}

func intValue(row sqldb.Row, column string) (int64, error) {
	v, ok := row.Lookup(column)
	if !ok {
		return 0, fmt.Errorf("missing %s column", column)
	}
	n, ok := v.Int()
	if !ok {
		return 0, fmt.Errorf("column %s: want integer, got %s", column, v.Kind())
	}
	return n, nil
}

func textValue(row sqldb.Row, column string) (string, error) {
	v, ok := row.Lookup(column)
	if !ok {
		return "", fmt.Errorf("missing %s column", column)
	}
	s, ok := v.Text()
	if !ok {
		return "", fmt.Errorf("column %s: want string, got %s", column, v.Kind())
	}
	return s, nil
}

// castErr translates database errors into errors of this package. The
// original error stays in the chain.
func castErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sqldb.ErrNotFound):
		return ErrNotFound
	case sqldb.IsKind(err, sqldb.ConstraintViolation):
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	default:
		return err
	}
}
