package cortex

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// DefaultLimit is the row limit of Find when none is given.
const DefaultLimit = 50

// ErrNoWhere is returned by operations that refuse to touch every row.
var ErrNoWhere = errors.New("no valid WHERE clause provided")

// ErrNoData is returned by Update with nothing to set.
var ErrNoData = errors.New("no data provided for update")

// Where matches rows whose columns equal the given values. A slice value matches any of
// its elements.
type Where map[string]interface{}

// Row is one table row keyed by column name.
type Row map[string]interface{}

// builder renders the statements of one table. Keys are emitted sorted so statements are
// stable for a given input.
type builder struct {
	table   string
	schema  Schema
	columns []string
}

func (b builder) checkColumn(name string) error {
	if _, ok := b.schema[name]; !ok {
		return fmt.Errorf("%s - unknown column %q on %s", logPrefix, name, b.table)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	if k == reflect.Slice {
		_, bytes := v.([]byte)
		return !bytes
	}
	return k == reflect.Array
}

// where renders the conditions of w joined by AND, numbering placeholders after offset.
func (b builder) where(w Where, offset int) (string, []interface{}, error) {
	keys := sortedKeys(w)
	conds := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		if err := b.checkColumn(k); err != nil {
			return "", nil, err
		}
		if isList(w[k]) {
			conds = append(conds, fmt.Sprintf("%s = ANY($%d)", k, offset+i+1))
		} else {
			conds = append(conds, fmt.Sprintf("%s = $%d", k, offset+i+1))
		}
		args = append(args, w[k])
	}
	return strings.Join(conds, " AND "), args, nil
}

func (b builder) createTable() string {
	defs := make([]string, len(b.columns))
	for i, name := range b.columns {
		defs[i] = b.schema[name].definition(name)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", b.table, strings.Join(defs, ", "))
}

func (b builder) dropTable() string {
	return "DROP TABLE IF EXISTS " + b.table
}

func (b builder) find(w Where, limit, offset int) (string, []interface{}, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	cond, args, err := b.where(w, 0)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT * FROM " + b.table
	if cond != "" {
		sql += " WHERE " + cond
	}
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", sql, limit, offset), args, nil
}

func (b builder) insert(row Row) (string, []interface{}, error) {
	if len(row) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", b.table), nil, nil
	}
	keys := sortedKeys(row)
	marks := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		if err := b.checkColumn(k); err != nil {
			return "", nil, err
		}
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[k]
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		b.table, strings.Join(keys, ", "), strings.Join(marks, ", ")), args, nil
}

func (b builder) count(w Where) (string, []interface{}, error) {
	cond, args, err := b.where(w, 0)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT COUNT(*) FROM " + b.table
	if cond != "" {
		sql += " WHERE " + cond
	}
	return sql, args, nil
}

func (b builder) findOne(w Where) (string, []interface{}, error) {
	cond, args, err := b.where(w, 0)
	if err != nil {
		return "", nil, err
	}
	if cond == "" {
		return "", nil, ErrNoWhere
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", b.table, cond), args, nil
}

func (b builder) update(w Where, data Row) (string, []interface{}, error) {
	if len(data) == 0 {
		return "", nil, ErrNoData
	}
	keys := sortedKeys(data)
	sets := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+len(w))
	for i, k := range keys {
		if err := b.checkColumn(k); err != nil {
			return "", nil, err
		}
		sets[i] = fmt.Sprintf("%s = $%d", k, i+1)
		args = append(args, data[k])
	}
	cond, whereArgs, err := b.where(w, len(keys))
	if err != nil {
		return "", nil, err
	}
	if cond == "" {
		return "", nil, ErrNoWhere
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *", b.table, strings.Join(sets, ", "), cond),
		append(args, whereArgs...), nil
}

func (b builder) destroy(w Where) (string, []interface{}, error) {
	cond, args, err := b.where(w, 0)
	if err != nil {
		return "", nil, err
	}
	if cond == "" {
		return "", nil, ErrNoWhere
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", b.table, cond), args, nil
}

// bulkDestroy deletes rows whose column is in any of the given lists.
func (b builder) bulkDestroy(lists map[string]interface{}) (string, []interface{}, error) {
	keys := sortedKeys(lists)
	conds := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		if err := b.checkColumn(k); err != nil {
			return "", nil, err
		}
		if !isList(lists[k]) {
			return "", nil, fmt.Errorf("%s - bulk destroy value for %s is not a list", logPrefix, k)
		}
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", k, i+1))
		args = append(args, lists[k])
	}
	if len(conds) == 0 {
		return "", nil, ErrNoWhere
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", b.table, strings.Join(conds, " OR ")), args, nil
}
