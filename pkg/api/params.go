package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// listParams is a parsed and validated set of list query parameters.
type listParams struct {
	Page     int
	Limit    int
	OrderBy  []storage.Order
	Filters  []storage.Filter
	Fulltext string
}

func (p *listParams) offset() int {
	return (p.Page - 1) * p.Limit
}

// parseListParams reads the reserved underscore parameters and turns
// every remaining key into an equality or membership filter. All
// offending parameters are reported together.
func parseListParams(r *http.Request, d *model.Descriptor) (*listParams, error) {
	v := NewValidationError()
	params := &listParams{Page: 1, Limit: defaultLimit}

	query := r.URL.Query()

	if raw := query.Get("_page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			v.Addf("_page", "%q is not a valid page number", raw)
		} else {
			params.Page = page
		}
	}

	if raw := query.Get("_limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			v.Addf("_limit", "%q is not a valid page size (1 to %d)", raw, maxLimit)
		} else {
			params.Limit = limit
		}
	}

	if raw := query.Get("_order_by"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			desc := strings.HasPrefix(name, "-")
			name = strings.TrimPrefix(name, "-")
			column, ok := filterColumn(d, name)
			if !ok {
				v.Addf("_order_by", "cannot order by %q: no such field on %s", name, d.Name)
				continue
			}
			params.OrderBy = append(params.OrderBy, storage.Order{Column: column, Desc: desc})
		}
	}

	params.Fulltext = strings.TrimSpace(query.Get("_fulltext"))
	if params.Fulltext != "" && !d.Searchable() {
		v.Addf("_fulltext", "model %s does not support full text search", d.Name)
	}

	for key, values := range query {
		if strings.HasPrefix(key, "_") || len(values) == 0 {
			continue
		}

		// repeatable membership filter: field__in[]=a&field__in[]=b
		name := strings.TrimSuffix(key, "[]")
		if field, ok := strings.CutSuffix(name, "__in"); ok {
			column, found := filterColumn(d, field)
			if !found {
				v.Addf(field, "cannot filter by %q: no such field on %s", field, d.Name)
				continue
			}
			in := make([]interface{}, 0, len(values))
			for _, raw := range values {
				in = append(in, coerceFilterValue(raw))
			}
			params.Filters = append(params.Filters, storage.Filter{Column: column, Op: storage.OpIn, Values: in})
			continue
		}

		column, found := filterColumn(d, name)
		if !found {
			v.Addf(name, "cannot filter by %q: no such field on %s", name, d.Name)
			continue
		}
		params.Filters = append(params.Filters, storage.Filter{
			Column: column, Op: storage.OpEq, Values: []interface{}{coerceFilterValue(values[0])},
		})
	}

	if !v.Empty() {
		return nil, v
	}
	return params, nil
}

// filterColumn maps a query-facing name to its backing column. To-many
// relations have no column and cannot be filtered or ordered on.
func filterColumn(d *model.Descriptor, name string) (string, bool) {
	if name == "id" {
		return "id", true
	}
	for _, f := range d.Fields {
		if f.IsToMany() {
			continue
		}
		if f.Name == name || f.ColumnName() == name {
			return f.ColumnName(), true
		}
	}
	return "", false
}

// coerceFilterValue maps literal booleans and numbers so typed columns
// compare correctly; everything else stays a string.
func coerceFilterValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
