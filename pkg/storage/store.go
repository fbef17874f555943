package storage

import (
	"time"

	"github.com/cuemby/natfailover/pkg/events"
)

// Journal is an append-only, size-bounded record of controller events
type Journal interface {
	// Append stores an event, evicting the oldest entries beyond retention
	Append(event *events.Event) error

	// List returns stored events in chronological order
	List(opts ListOptions) ([]*events.Event, error)

	// Count returns the number of stored events
	Count() (int, error)

	Close() error
}

// ListOptions filters List results
type ListOptions struct {
	// Limit keeps only the newest Limit events, 0 for all
	Limit int

	// Since drops events older than this time
	Since time.Time

	// Types keeps only events of these types, empty for all
	Types []events.EventType
}

func (o ListOptions) match(event *events.Event) bool {
	if !o.Since.IsZero() && event.Timestamp.Before(o.Since) {
		return false
	}
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if event.Type == t {
			return true
		}
	}
	return false
}
