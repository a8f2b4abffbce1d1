// Package cortex maps a schema onto a Postgres table named cortex_<name> and runs hooked
// CRUD statements against it through pgx.
package cortex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/njavilas2015/onbbu/pkg/core"
)

const logPrefix = "cortex:table"

// TablePrefix is prepended to every table name.
const TablePrefix = "cortex_"

// DB is what a Table runs statements on. *pgxpool.Pool and pgx.Tx both satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Table runs statements on one schema-backed table.
type Table struct {
	db    DB
	hooks *Hooks
	sql   builder
}

// FindOptions selects rows for Find. Limit defaults to DefaultLimit.
type FindOptions struct {
	Where  Where
	Limit  int
	Offset int
}

// New creates a Table for cortex_<name>. hooks may be nil.
func New(db DB, name string, schema Schema, hooks *Hooks) (*Table, error) {
	if err := validIdent(TablePrefix + name); err != nil {
		return nil, err
	}
	columns, err := schema.columns()
	if err != nil {
		return nil, err
	}
	if hooks == nil {
		hooks = &Hooks{}
	}
	return &Table{
		db:    db,
		hooks: hooks,
		sql:   builder{table: TablePrefix + name, schema: schema, columns: columns},
	}, nil
}

// Name returns the table name, including the prefix.
func (t *Table) Name() string { return t.sql.table }

// Hooks returns the table's hooks for registration.
func (t *Table) Hooks() *Hooks { return t.hooks }

// Close closes the underlying pool when it has a Close method.
func (t *Table) Close() {
	if c, ok := t.db.(interface{ Close() }); ok {
		c.Close()
	}
}

func (t *Table) query(ctx context.Context, sql string, args []interface{}) ([]Row, error) {
	if err := t.hooks.run(ctx, BeforeQuery, QueryArg{SQL: sql, Args: args}); err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - %s", logPrefix, sql))

	rows, err := t.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - query on %s failed: %w", logPrefix, t.sql.table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("%s - reading rows of %s failed: %w", logPrefix, t.sql.table, err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = m
	}
	return out, nil
}

func (t *Table) exec(ctx context.Context, sql string) error {
	if err := t.hooks.run(ctx, BeforeQuery, QueryArg{SQL: sql}); err != nil {
		return err
	}
	if _, err := t.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%s - %q failed: %w", logPrefix, sql, err)
	}
	return nil
}

// CreateTable creates the table if it does not exist.
func (t *Table) CreateTable(ctx context.Context) error {
	if err := t.hooks.run(ctx, BeforeCreateTable, nil); err != nil {
		return err
	}
	if err := t.exec(ctx, t.sql.createTable()); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Table %s ready", logPrefix, t.sql.table))
	return t.hooks.run(ctx, AfterCreateTable, nil)
}

// DropTable drops the table if it exists.
func (t *Table) DropTable(ctx context.Context) error {
	if err := t.hooks.run(ctx, BeforeDropTable, nil); err != nil {
		return err
	}
	if err := t.exec(ctx, t.sql.dropTable()); err != nil {
		return err
	}
	return t.hooks.run(ctx, AfterDropTable, nil)
}

// Find returns the rows matching opts.Where.
func (t *Table) Find(ctx context.Context, opts FindOptions) ([]Row, error) {
	sql, args, err := t.sql.find(opts.Where, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return t.query(ctx, sql, args)
}

// Create validates row against the schema, inserts it and returns the stored row.
// Validation failures are *core.ValidationError.
func (t *Table) Create(ctx context.Context, row Row) (Row, error) {
	if err := t.hooks.run(ctx, BeforeCreate, row); err != nil {
		return nil, err
	}
	if err := t.validate(row); err != nil {
		return nil, err
	}
	sql, args, err := t.sql.insert(row)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if err := t.hooks.run(ctx, AfterCreate, rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s - insert into %s returned no row", logPrefix, t.sql.table)
	}
	return rows[0], nil
}

// Count returns how many rows match w.
func (t *Table) Count(ctx context.Context, w Where) (int64, error) {
	if err := t.hooks.run(ctx, BeforeCount, w); err != nil {
		return 0, err
	}
	sql, args, err := t.sql.count(w)
	if err != nil {
		return 0, err
	}
	if err := t.hooks.run(ctx, BeforeQuery, QueryArg{SQL: sql, Args: args}); err != nil {
		return 0, err
	}
	rows, err := t.db.Query(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s - count on %s failed: %w", logPrefix, t.sql.table, err)
	}
	n, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("%s - count on %s failed: %w", logPrefix, t.sql.table, err)
	}
	if err := t.hooks.run(ctx, AfterCount, n); err != nil {
		return 0, err
	}
	return n, nil
}

// FindOne returns the first row matching w. ok is false when none does. An empty w is
// ErrNoWhere.
func (t *Table) FindOne(ctx context.Context, w Where) (row Row, ok bool, err error) {
	if err := t.hooks.run(ctx, BeforeFindOne, w); err != nil {
		return nil, false, err
	}
	sql, args, err := t.sql.findOne(w)
	if err != nil {
		return nil, false, err
	}
	rows, err := t.query(ctx, sql, args)
	if err != nil {
		return nil, false, err
	}
	if err := t.hooks.run(ctx, AfterFindOne, rows); err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Update sets data on the rows matching w and returns them.
func (t *Table) Update(ctx context.Context, w Where, data Row) ([]Row, error) {
	if err := t.hooks.run(ctx, BeforeUpdate, data); err != nil {
		return nil, err
	}
	sql, args, err := t.sql.update(w, data)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return rows, t.hooks.run(ctx, AfterUpdate, rows)
}

// Destroy deletes the rows matching w and returns them.
func (t *Table) Destroy(ctx context.Context, w Where) ([]Row, error) {
	if err := t.hooks.run(ctx, BeforeDestroy, w); err != nil {
		return nil, err
	}
	sql, args, err := t.sql.destroy(w)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return rows, t.hooks.run(ctx, AfterDestroy, rows)
}

// BulkDestroy deletes the rows whose column value is in the list given for that column,
// for any of the columns, and returns them.
func (t *Table) BulkDestroy(ctx context.Context, lists map[string]interface{}) ([]Row, error) {
	if err := t.hooks.run(ctx, BeforeBulkDestroy, lists); err != nil {
		return nil, err
	}
	sql, args, err := t.sql.bulkDestroy(lists)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return rows, t.hooks.run(ctx, AfterBulkDestroy, rows)
}

// WithTransaction runs fn with a Table bound to a transaction, committing when fn returns
// nil and rolling back otherwise.
func (t *Table) WithTransaction(ctx context.Context, fn func(tx *Table) error) error {
	return pgx.BeginFunc(ctx, t.db, func(tx pgx.Tx) error {
		return fn(&Table{db: tx, hooks: t.hooks, sql: t.sql})
	})
}

func (t *Table) validate(row Row) error {
	for _, name := range t.sql.columns {
		col := t.sql.schema[name]
		value, present := row[name]
		// An omitted column falls back to its default.
		if col.NotNull && value == nil && (present || col.Default == "") {
			return core.NewValidationError(fmt.Sprintf("%s cannot be null", name))
		}
		if col.Validate != nil && present && !col.Validate(value) {
			return core.NewValidationError(fmt.Sprintf("%s failed validation", name))
		}
	}
	return nil
}
