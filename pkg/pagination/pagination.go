// Package pagination reads limit/offset query parameters and shapes list
// responses for the booking, user and notification listings.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Request is the page a caller asked for, already clamped.
type Request struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or invalid values fall back
// to the first page of DefaultLimit rows; limit is capped at MaxLimit.
func FromContext(c echo.Context) Request {
	return parse(c.QueryParam("limit"), c.QueryParam("offset"))
}

func parse(limitParam, offsetParam string) Request {
	r := Request{Limit: DefaultLimit}
	if n, err := strconv.Atoi(limitParam); err == nil && n > 0 {
		r.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(offsetParam); err == nil && n > 0 {
		r.Offset = n
	}
	return r
}

// Page is one slice of a listing. Next and Prev repeat the request's other
// query parameters (status, role, unread) so a client can follow them as-is.
type Page[T any] struct {
	Data    []T    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
	Next    string `json:"next,omitempty"`
	Prev    string `json:"prev,omitempty"`
}

// NewPage wraps items for the request at u. A nil slice encodes as [].
func NewPage[T any](items []T, total int, req Request, u *url.URL) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{
		Data:    items,
		Total:   total,
		Limit:   req.Limit,
		Offset:  req.Offset,
		HasMore: req.Offset+len(items) < total,
	}
	if u == nil {
		return p
	}
	if p.HasMore {
		p.Next = pageURL(u, req.Limit, req.Offset+req.Limit)
	}
	if req.Offset > 0 {
		p.Prev = pageURL(u, req.Limit, max(req.Offset-req.Limit, 0))
	}
	return p
}

func pageURL(u *url.URL, limit, offset int) string {
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return (&url.URL{Path: u.Path, RawQuery: q.Encode()}).String()
}
