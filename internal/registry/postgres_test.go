package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nmslite/targetwatch/internal/models"
)

// fakeRows serves rows in serverColumns order
type fakeRows struct {
	rows   [][]any
	idx    int
	closed bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	names := strings.Split(serverColumns, ", ")
	fds := make([]pgconn.FieldDescription, len(names))
	for i, n := range names {
		fds[i] = pgconn.FieldDescription{Name: n}
	}
	return fds
}

func (r *fakeRows) Next() bool {
	if r.closed || r.idx >= len(r.rows) {
		r.closed = true
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *pgtype.Text:
			*p = row[i].(pgtype.Text)
		case *pgtype.Int4:
			*p = row[i].(pgtype.Int4)
		default:
			return fmt.Errorf("unexpected scan target %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

type fakeQuerier struct {
	rows  []serverRow
	execs []string
	args  [][]any
}

func (q *fakeQuerier) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	var out [][]any
	for _, r := range q.rows {
		if len(args) == 1 && r.ID != args[0] {
			continue
		}
		out = append(out, []any{r.ID, r.Name, r.Address, r.OSType, r.AuthType, r.Username, r.KeyPath, r.SSHPort, r.WinRMPort})
	}
	return &fakeRows{rows: out}, nil
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, strings.Fields(sql)[0])
	q.args = append(q.args, args)
	return pgconn.CommandTag{}, nil
}

var badRow = serverRow{ID: "bad", Address: "10.0.0.9", OSType: "plan9", AuthType: "password"}

func TestPostgres_Lookup(t *testing.T) {
	db := &fakeQuerier{rows: []serverRow{rowFromTarget(web), rowFromTarget(dc), badRow}}
	reg := NewPostgres(db, testLogger())
	ctx := context.Background()

	got, err := reg.Lookup(ctx, "dc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dc {
		t.Errorf("Lookup(dc) = %+v, want %+v", got, dc)
	}

	if _, err := reg.Lookup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = reg.Lookup(ctx, "bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected validation error for bad row, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid server row bad") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestPostgres_ListSkipsInvalidRows(t *testing.T) {
	db := &fakeQuerier{rows: []serverRow{rowFromTarget(dc), badRow, rowFromTarget(web)}}
	reg := NewPostgres(db, testLogger())

	targets, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 2 {
		t.Errorf("List returned %d targets, want 2: %+v", len(targets), targets)
	}
}

func TestPostgres_PutAndRemove(t *testing.T) {
	db := &fakeQuerier{}
	reg := NewPostgres(db, testLogger())
	ctx := context.Background()

	if err := reg.Put(ctx, models.Target{ID: "x", OSFamily: models.OSLinux, AuthMode: models.AuthKey}); err == nil {
		t.Error("expected validation error for target without address")
	}
	if len(db.execs) != 0 {
		t.Fatalf("invalid target reached the database: %v", db.execs)
	}

	if err := reg.Put(ctx, dc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := reg.Remove(ctx, "web"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if len(db.execs) != 2 || db.execs[0] != "INSERT" || db.execs[1] != "DELETE" {
		t.Fatalf("statements = %v, want INSERT then DELETE", db.execs)
	}
	if db.args[0][0] != "dc" || db.args[1][0] != "web" {
		t.Errorf("args = %v", db.args)
	}
	if port, ok := db.args[0][8].(pgtype.Int4); !ok || port.Int32 != 5986 {
		t.Errorf("winrm_port arg = %v, want 5986", db.args[0][8])
	}
}
