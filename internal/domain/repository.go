// Package domain holds the core types shared across the crawl subsystem and
// the query front-end: repository records, lookup inputs and results, and
// the identifier rows exchanged with the index store.
package domain

import (
	"errors"
	"time"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrRepositoryUnknown  = errors.New("repository unknown to accounts service")
)

// Repository is the durable per-repository bookkeeping record the crawl
// subsystem maintains across restarts. It never tracks asset data itself —
// only enough metadata to drive polling.
type Repository struct {
	ID                 string     `json:"id"`
	Location           string     `json:"location,omitempty"`
	Next               *time.Time `json:"next,omitempty"`
	Last               *time.Time `json:"last,omitempty"`
	Errors             int        `json:"errors"`
	SuccessfulQueries  int64      `json:"successful_queries"`
}

// DefaultFromTime is used as the lower bound of the identifier-feed query
// window when a repository has never completed a successful poll.
var DefaultFromTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// FromTime returns the lower bound to use for the next identifier fetch.
func (r *Repository) FromTime() time.Time {
	if r == nil || r.Next == nil {
		return DefaultFromTime
	}
	return *r.Next
}
