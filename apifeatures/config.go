package apifeatures

import "sort"

// FieldKind controls how filter values are converted before they are
// bound into the query
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
)

// Config describes the resource a query string is compiled against
type Config struct {
	// Fields maps public field names to column names. Only mapped
	// fields can be filtered, sorted or projected.
	Fields map[string]string
	// Kinds declares non text fields. Missing entries are KindString.
	Kinds        map[string]FieldKind
	PrimaryKey   string
	DefaultSort  string
	DefaultLimit int
	MaxLimit     int
}

// Option configures Parse
type Option func(*Config)

// WithFields sets the public field to column map
func WithFields(fields map[string]string) Option {
	return func(c *Config) {
		c.Fields = fields
	}
}

// WithFieldKinds declares numeric and boolean fields
func WithFieldKinds(kinds map[string]FieldKind) Option {
	return func(c *Config) {
		c.Kinds = kinds
	}
}

// WithPrimaryKey sets the column always projected and used as the final
// sort tie breaker
func WithPrimaryKey(column string) Option {
	return func(c *Config) {
		c.PrimaryKey = column
	}
}

// WithDefaultSort overrides DefaultSort
func WithDefaultSort(expr string) Option {
	return func(c *Config) {
		c.DefaultSort = expr
	}
}

// WithDefaultLimit overrides DefaultLimit
func WithDefaultLimit(limit int) Option {
	return func(c *Config) {
		if limit > 0 {
			c.DefaultLimit = limit
		}
	}
}

// WithMaxLimit caps the limit parameter
func WithMaxLimit(limit int) Option {
	return func(c *Config) {
		c.MaxLimit = limit
	}
}

func newConfig(opts ...Option) *Config {
	c := &Config{
		Fields:       map[string]string{},
		PrimaryKey:   "id",
		DefaultSort:  DefaultSort,
		DefaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.Fields == nil {
		c.Fields = map[string]string{}
	}
	return c
}

// columns returns every mapped column, primary key first, in a stable
// order.
func (c *Config) columns() []string {
	cols := make([]string, 0, len(c.Fields))
	for _, column := range c.Fields {
		if column != c.PrimaryKey {
			cols = append(cols, column)
		}
	}
	sort.Strings(cols)
	if c.PrimaryKey != "" {
		cols = append([]string{c.PrimaryKey}, cols...)
	}
	return appendUnique(nil, cols...)
}
