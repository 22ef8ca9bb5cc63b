package model

import "time"

// Response is the envelope every API endpoint answers with. Page is set only
// by the run journal listing.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Page      *Page     `json:"page,omitempty"`
	Error     *APIError `json:"error"`
}

const (
	DefaultRunLimit = 20
	MaxRunLimit     = 100
)

// RunQuery selects journal runs, newest first.
type RunQuery struct {
	Limit  int
	Offset int
	State  RunState // empty matches every state
}

// Normalize applies the default and maximum page size.
func (q RunQuery) Normalize() RunQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultRunLimit
	case q.Limit > MaxRunLimit:
		q.Limit = MaxRunLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Page tells which slice of the matching runs a listing returned.
type Page struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// More reports whether runs past this page exist.
func (p Page) More() bool {
	return p.Offset+p.Count < p.Total
}
