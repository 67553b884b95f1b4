package jsonapi

import (
	"fmt"
	"net/url"
	"strconv"
)

// Paging defaults for collection endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Page describes one skip/limit window over a collection.
type Page struct {
	Total   int    // matching records
	Skip    int    // records skipped before this page
	Limit   int    // page size
	BaseURL string // URL the links are built from; its other query params are kept
}

// HasPrev reports whether records precede this page.
func (p *Page) HasPrev() bool {
	return p.Skip > 0
}

// HasNext reports whether records follow this page.
func (p *Page) HasNext() bool {
	return p.Skip+p.Limit < p.Total
}

// Links builds navigation links for the page.
func (p *Page) Links() *Links {
	links := &Links{
		Self:  p.buildURL(p.Skip),
		First: p.buildURL(0),
	}
	if p.HasPrev() {
		links.Prev = p.buildURL(max(p.Skip-p.Limit, 0))
	}
	if p.HasNext() {
		links.Next = p.buildURL(p.Skip + p.Limit)
	}
	return links
}

func (p *Page) buildURL(skip int) string {
	if p.BaseURL == "" {
		return ""
	}

	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return p.BaseURL
	}

	q := u.Query()
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(p.Limit))
	u.RawQuery = q.Encode()

	return u.String()
}

// Meta returns paging metadata.
func (p *Page) Meta() Meta {
	return Meta{
		"total": p.Total,
		"skip":  p.Skip,
		"limit": p.Limit,
	}
}

// ParsePage reads skip and limit from the query. Missing values take the
// defaults; limit is capped at MaxLimit. Malformed values are reported as
// invalid parameter errors.
func ParsePage(query url.Values) (skip, limit int, err error) {
	limit = DefaultLimit

	if v := query.Get("skip"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, &ParamError{Param: "skip", Value: v}
		}
		skip = n
	}
	if v := query.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return 0, 0, &ParamError{Param: "limit", Value: v}
		}
		limit = min(n, MaxLimit)
	}

	return skip, limit, nil
}

// ParamError reports a malformed query parameter.
type ParamError struct {
	Param string
	Value string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Param, e.Value)
}

// JSONAPIError converts the error into an invalid parameter error object.
func (e *ParamError) JSONAPIError() Error {
	return ErrInvalidParameter(e.Param, e.Error())
}
