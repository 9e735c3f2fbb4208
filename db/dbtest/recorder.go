package dbtest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Statement is one call captured by Recorder.
type Statement struct {
	SQL  string
	Args []any
}

// Recorder is a db.Querier that captures every statement. Query returns no
// rows and QueryRow fails its Scan with RowErr, or pgx.ErrNoRows when unset.
type Recorder struct {
	mu       sync.Mutex
	Execs    []Statement
	Queries  []Statement
	ExecErr  error
	QueryErr error
	RowErr   error
}

func (r *Recorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ExecErr != nil {
		return pgconn.CommandTag{}, r.ExecErr
	}
	r.Execs = append(r.Execs, Statement{SQL: sql, Args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *Recorder) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries = append(r.Queries, Statement{SQL: sql, Args: args})
	if r.QueryErr != nil {
		return nil, r.QueryErr
	}
	return emptyRows{}, nil
}

func (r *Recorder) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries = append(r.Queries, Statement{SQL: sql, Args: args})
	err := r.RowErr
	if err == nil {
		err = pgx.ErrNoRows
	}
	return errRow{err: err}
}

// LastQuery returns the most recent Query or QueryRow call.
func (r *Recorder) LastQuery() Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Queries) == 0 {
		return Statement{}
	}
	return r.Queries[len(r.Queries)-1]
}

type errRow struct{ err error }

func (e errRow) Scan(...any) error { return e.err }

type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 0") }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(...any) error                            { return pgx.ErrNoRows }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }
