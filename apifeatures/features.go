// Package apifeatures compiles listing query strings into bun select
// queries. Stages always run in the same order: filter, sort, project
// and paginate.
package apifeatures

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Reserved query keys that never become filters
const (
	KeySort   = "sort"
	KeyLimit  = "limit"
	KeyPage   = "page"
	KeyFields = "fields"
)

const (
	DefaultSort  = "-createdAt,name"
	DefaultLimit = 100
	DefaultPage  = 1
)

var reservedKeys = map[string]bool{
	KeySort:   true,
	KeyLimit:  true,
	KeyPage:   true,
	KeyFields: true,
}

// Operator is a SQL comparison operator
type Operator string

const (
	OpEq  Operator = "="
	OpGte Operator = ">="
	OpGt  Operator = ">"
	OpLte Operator = "<="
	OpLt  Operator = "<"
	OpIn  Operator = "IN"
)

var operators = map[string]Operator{
	"gte": OpGte,
	"gt":  OpGt,
	"lte": OpLte,
	"lt":  OpLt,
}

// ErrPageNotFound is returned when an explicitly requested page lies
// beyond the matching rows.
var ErrPageNotFound = errors.New("This page does not exist", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound).
	WithTextCode("PAGE_NOT_FOUND")

// Filter is a single compiled condition
type Filter struct {
	Field  string
	Column string
	Op     Operator
	Value  any
	Values []any
}

// SortField is a single ORDER BY term
type SortField struct {
	Field  string
	Column string
	Desc   bool
}

// Features is a compiled query string
type Features struct {
	Filters       []Filter
	Sort          []SortField
	Columns       []string
	Page          int
	Limit         int
	PageRequested bool
	// Projected is true when the caller asked for specific fields
	Projected bool

	primaryKey string
}

// Offset returns the number of rows skipped by pagination
func (f *Features) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Parse compiles the given query parameters
func Parse(values url.Values, opts ...Option) (*Features, error) {
	cfg := newConfig(opts...)

	f := &Features{
		Page:       DefaultPage,
		Limit:      cfg.DefaultLimit,
		primaryKey: cfg.PrimaryKey,
	}

	if err := f.parseFilters(values, cfg); err != nil {
		return nil, err
	}

	if err := f.parseSort(values.Get(KeySort), cfg); err != nil {
		return nil, err
	}

	if err := f.parseFields(values.Get(KeyFields), cfg); err != nil {
		return nil, err
	}

	if err := f.parsePagination(values, cfg); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *Features) parseFilters(values url.Values, cfg *Config) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reservedKeys[key] {
			continue
		}

		field, opName, err := splitFilterKey(key)
		if err != nil {
			return err
		}

		column, ok := cfg.Fields[field]
		if !ok {
			return badInput(fmt.Sprintf("Invalid filter field: %s", field), map[string]any{"field": field})
		}

		raw := values[key]
		if len(raw) == 0 {
			continue
		}

		if opName == "" {
			if len(raw) > 1 {
				vals := make([]any, 0, len(raw))
				for _, v := range raw {
					val, err := cfg.coerce(field, v)
					if err != nil {
						return err
					}
					vals = append(vals, val)
				}
				f.Filters = append(f.Filters, Filter{Field: field, Column: column, Op: OpIn, Values: vals})
				continue
			}
			val, err := cfg.coerce(field, raw[0])
			if err != nil {
				return err
			}
			f.Filters = append(f.Filters, Filter{Field: field, Column: column, Op: OpEq, Value: val})
			continue
		}

		op, ok := operators[opName]
		if !ok {
			return badInput(fmt.Sprintf("Invalid filter operator: %s", opName), map[string]any{
				"field":    field,
				"operator": opName,
			})
		}

		for _, v := range raw {
			val, err := cfg.coerce(field, v)
			if err != nil {
				return err
			}
			f.Filters = append(f.Filters, Filter{Field: field, Column: column, Op: op, Value: val})
		}
	}

	return nil
}

// splitFilterKey splits "price[gte]" into ("price", "gte")
func splitFilterKey(key string) (string, string, error) {
	open := strings.IndexByte(key, '[')
	if open == -1 {
		return key, "", nil
	}

	if !strings.HasSuffix(key, "]") || open == 0 {
		return "", "", badInput(fmt.Sprintf("Invalid filter: %s", key), map[string]any{"key": key})
	}

	return key[:open], key[open+1 : len(key)-1], nil
}

func (f *Features) parseSort(raw string, cfg *Config) error {
	explicit := strings.TrimSpace(raw) != ""
	if !explicit {
		raw = cfg.DefaultSort
	}

	for _, term := range splitList(raw) {
		desc := strings.HasPrefix(term, "-")
		name := strings.TrimPrefix(term, "-")

		column, ok := cfg.Fields[name]
		if !ok {
			if !explicit {
				continue
			}
			return badInput(fmt.Sprintf("Invalid sort field: %s", name), map[string]any{"field": name})
		}

		f.Sort = append(f.Sort, SortField{Field: name, Column: column, Desc: desc})
	}

	return nil
}

func (f *Features) parseFields(raw string, cfg *Config) error {
	terms := splitList(raw)

	if len(terms) == 0 {
		f.Columns = cfg.columns()
		return nil
	}

	f.Projected = true

	exclude := map[string]bool{}
	include := []string{}

	for _, term := range terms {
		excluded := strings.HasPrefix(term, "-")
		name := strings.TrimPrefix(term, "-")

		column, ok := cfg.Fields[name]
		if !ok {
			return badInput(fmt.Sprintf("Invalid projection field: %s", name), map[string]any{"field": name})
		}

		if excluded {
			exclude[column] = true
			continue
		}
		include = append(include, column)
	}

	if len(include) > 0 && len(exclude) > 0 {
		return badInput("Projection cannot mix inclusion and exclusion", nil)
	}

	if len(exclude) > 0 {
		for _, column := range cfg.columns() {
			if column == cfg.PrimaryKey || !exclude[column] {
				f.Columns = append(f.Columns, column)
			}
		}
		return nil
	}

	f.Columns = appendUnique([]string{cfg.PrimaryKey}, include...)
	return nil
}

func (f *Features) parsePagination(values url.Values, cfg *Config) error {
	if raw := strings.TrimSpace(values.Get(KeyPage)); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return badInput("page must be a positive integer", map[string]any{"page": raw})
		}
		f.Page = page
		f.PageRequested = true
	}

	if raw := strings.TrimSpace(values.Get(KeyLimit)); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return badInput("limit must be a positive integer", map[string]any{"limit": raw})
		}
		if cfg.MaxLimit > 0 && limit > cfg.MaxLimit {
			limit = cfg.MaxLimit
		}
		f.Limit = limit
	}

	if f.Page-1 > math.MaxInt/f.Limit {
		return ErrPageNotFound
	}

	return nil
}

// Apply runs every stage in order: filter, sort, project, paginate
func (f *Features) Apply(q *bun.SelectQuery) *bun.SelectQuery {
	q = f.ApplyFilter(q)
	q = f.ApplySort(q)
	q = f.ApplyProjection(q)
	return f.ApplyPagination(q)
}

// ApplyFilter adds the WHERE conditions
func (f *Features) ApplyFilter(q *bun.SelectQuery) *bun.SelectQuery {
	for _, flt := range f.Filters {
		if flt.Op == OpIn {
			q = q.Where("?TableAlias.? IN (?)", bun.Ident(flt.Column), bun.In(flt.Values))
			continue
		}
		q = q.Where(fmt.Sprintf("?TableAlias.? %s ?", flt.Op), bun.Ident(flt.Column), flt.Value)
	}
	return q
}

// ApplySort adds ORDER BY terms followed by the primary key
func (f *Features) ApplySort(q *bun.SelectQuery) *bun.SelectQuery {
	seenPK := false
	for _, s := range f.Sort {
		if s.Column == f.primaryKey {
			seenPK = true
		}
		if s.Desc {
			q = q.OrderExpr("?TableAlias.? DESC", bun.Ident(s.Column))
		} else {
			q = q.OrderExpr("?TableAlias.? ASC", bun.Ident(s.Column))
		}
	}
	if !seenPK && f.primaryKey != "" {
		q = q.OrderExpr("?TableAlias.? ASC", bun.Ident(f.primaryKey))
	}
	return q
}

// ApplyProjection restricts the selected columns
func (f *Features) ApplyProjection(q *bun.SelectQuery) *bun.SelectQuery {
	if len(f.Columns) == 0 {
		return q
	}
	return q.Column(f.Columns...)
}

// ApplyPagination sets LIMIT and OFFSET
func (f *Features) ApplyPagination(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Limit(f.Limit).Offset(f.Offset())
}

// Find counts the filtered rows, fails with ErrPageNotFound when an
// explicit page is out of range, then scans the requested page.
// newQuery must return a fresh query bound to the destination model.
func (f *Features) Find(ctx context.Context, newQuery func() *bun.SelectQuery) (int, error) {
	total, err := f.ApplyFilter(newQuery()).Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to count records")
	}

	if f.PageRequested && f.Offset() >= total {
		return total, ErrPageNotFound
	}

	if err := f.Apply(newQuery()).Scan(ctx); err != nil {
		return total, errors.Wrap(err, errors.CategoryInternal, "failed to list records")
	}

	return total, nil
}

// Alias returns a copy of values with preset applied on top. Resources
// use it to expose canned listings.
func Alias(values url.Values, preset map[string]string) url.Values {
	out := url.Values{}
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range preset {
		out.Set(k, v)
	}
	return out
}

// coerce converts a filter value according to the declared field kind.
// Undeclared fields compare as text.
func (c *Config) coerce(field, raw string) (any, error) {
	switch c.Kinds[field] {
	case KindNumber:
		v := strings.TrimSpace(raw)
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, nil
		}
		if fl, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(fl) && !math.IsInf(fl, 0) {
			return fl, nil
		}
		return nil, badInput(fmt.Sprintf("%s must be a number", field), map[string]any{"field": field, "value": raw})
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, badInput(fmt.Sprintf("%s must be true or false", field), map[string]any{"field": field, "value": raw})
		}
		return b, nil
	default:
		return raw, nil
	}
}

func splitList(raw string) []string {
	raw = strings.ReplaceAll(raw, " ", ",")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendUnique(dst []string, items ...string) []string {
	seen := map[string]bool{}
	for _, d := range dst {
		seen[d] = true
	}
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			dst = append(dst, it)
		}
	}
	return dst
}

func badInput(msg string, meta map[string]any) *errors.Error {
	err := errors.New(msg, errors.CategoryBadInput).WithCode(errors.CodeBadRequest)
	if meta != nil {
		err = err.WithMetadata(meta)
	}
	return err
}
