package application

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Query is one product lookup, decided once from caller attributes. The
// concrete types are QueryItem, QueryItems, QuerySearch and QueryManual.
type Query interface {
	query()
}

// QueryItem looks up a single identifier.
type QueryItem struct {
	Identifier  string
	Marketplace string
	ForceFresh  bool
}

// QueryItems looks up a list of identifiers.
type QueryItems struct {
	Identifiers []string
	Marketplace string
	ForceFresh  bool
}

// QuerySearch runs a keyword search.
type QuerySearch struct {
	Request driven.SearchRequest
}

// QueryManual searches manually-created products.
type QueryManual struct {
	Search string
}

func (QueryItem) query()   {}
func (QueryItems) query()  {}
func (QuerySearch) query() {}
func (QueryManual) query() {}

// ParseQuery decides the query kind from attrs. Keys are matched
// case-insensitively. Precedence when several are present: identifier,
// identifiers, keywords, manual.
//
//	identifier / asin        single lookup
//	identifiers / asins      comma or whitespace separated list
//	keywords / search        keyword search (page, category, sort)
//	manual                   manual product search ("" lists all)
//
// marketplace and fresh apply to the lookups.
func ParseQuery(attrs map[string]string) (Query, error) {
	a := make(map[string]string, len(attrs))
	for k, v := range attrs {
		a[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	marketplace := a["marketplace"]

	fresh := false
	if v, ok := a["fresh"]; ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("fresh %q is not a boolean: %w", v, driven.ErrValidation)
		}
		fresh = parsed
	}

	if id := first(a, "identifier", "asin"); id != "" {
		return QueryItem{Identifier: id, Marketplace: marketplace, ForceFresh: fresh}, nil
	}

	if list := first(a, "identifiers", "asins"); list != "" {
		ids := strings.FieldsFunc(list, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t'
		})
		if len(ids) == 0 {
			return nil, fmt.Errorf("identifiers list is empty: %w", driven.ErrValidation)
		}
		return QueryItems{Identifiers: ids, Marketplace: marketplace, ForceFresh: fresh}, nil
	}

	if keywords := first(a, "keywords", "search"); keywords != "" {
		page := 1
		if v := a["page"]; v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("page %q is not a number: %w", v, driven.ErrValidation)
			}
			page = parsed
		}
		return QuerySearch{Request: driven.SearchRequest{
			Keywords:    keywords,
			Marketplace: marketplace,
			Page:        page,
			Category:    a["category"],
			Sort:        a["sort"],
		}}, nil
	}

	if search, ok := a["manual"]; ok {
		return QueryManual{Search: search}, nil
	}

	return nil, fmt.Errorf("no identifier, identifiers, keywords or manual attribute: %w", driven.ErrValidation)
}

func first(a map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := a[k]; v != "" {
			return v
		}
	}
	return ""
}
