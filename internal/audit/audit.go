// Package audit records what happened to reservations. It is a side channel:
// nothing in the reservation lifecycle waits on or depends on a sink succeeding.
package audit

import (
	"context"
	"errors"
	"fmt"

	"ms-rental/internal/models"
)

type Sink interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Multi fans an entry out to every sink. A failing or panicking sink does not
// stop the others; their errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := safeRecord(ctx, s, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeRecord(ctx context.Context, s Sink, entry models.AuditEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink %T panicked: %v", s, r)
		}
	}()
	return s.Record(ctx, entry)
}

// Filter passes only the listed actions through to Sink.
type Filter struct {
	Sink    Sink
	Actions map[string]bool
}

func OnlyActions(s Sink, actions ...string) Filter {
	f := Filter{Sink: s, Actions: make(map[string]bool, len(actions))}
	for _, a := range actions {
		f.Actions[a] = true
	}
	return f
}

func (f Filter) Record(ctx context.Context, entry models.AuditEntry) error {
	if !f.Actions[entry.Action] {
		return nil
	}
	return f.Sink.Record(ctx, entry)
}
