package cortex

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ColumnType is a Postgres column type a schema may use.
type ColumnType string

const (
	UUID     ColumnType = "UUID"
	SmallInt ColumnType = "SMALLINT"
	BigInt   ColumnType = "BIGINT"
	Integer  ColumnType = "INTEGER"
	Varchar  ColumnType = "VARCHAR"
	Date     ColumnType = "DATE"
	Text     ColumnType = "TEXT"
	Boolean  ColumnType = "BOOLEAN"
	CIDR     ColumnType = "CIDR"
	Inet     ColumnType = "INET"
	MACAddr  ColumnType = "MACADDR"
	JSON     ColumnType = "JSON"
	JSONB    ColumnType = "JSONB"
	XML      ColumnType = "XML"
)

var baseTypes = []ColumnType{UUID, SmallInt, BigInt, Integer, Varchar, Date, Text, Boolean, CIDR, Inet, MACAddr, JSON, JSONB, XML}

// Array returns the array form of t, e.g. "TEXT[]".
func (t ColumnType) Array() ColumnType {
	if strings.HasSuffix(string(t), "[]") {
		return t
	}
	return t + "[]"
}

// Valid reports whether t is one of the supported types or their array forms.
func (t ColumnType) Valid() bool {
	base := ColumnType(strings.TrimSuffix(string(t), "[]"))
	for _, b := range baseTypes {
		if b == base {
			return true
		}
	}
	return false
}

// Column describes one column. Default is raw SQL.
type Column struct {
	Type       ColumnType
	NotNull    bool
	Default    string
	Unique     bool
	PrimaryKey bool
	// Validate, when set, must accept every value given to Create.
	Validate func(value interface{}) bool
}

// Schema maps column names to their definition.
type Schema map[string]Column

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func validIdent(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%s - invalid identifier %q", logPrefix, name)
	}
	return nil
}

// columns returns the sorted column names after checking every name and type.
func (s Schema) columns() ([]string, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%s - schema has no columns", logPrefix)
	}
	names := make([]string, 0, len(s))
	for name, col := range s {
		if err := validIdent(name); err != nil {
			return nil, err
		}
		if !col.Type.Valid() {
			return nil, fmt.Errorf("%s - column %s has unsupported type %q", logPrefix, name, col.Type)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c Column) definition(name string) string {
	def := name + " " + string(c.Type)
	if c.PrimaryKey {
		def += " PRIMARY KEY"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	if c.Unique {
		def += " UNIQUE"
	}
	return def
}
