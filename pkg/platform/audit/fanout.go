package audit

import (
	"context"
	"errors"
)

type fanout struct {
	primary Store
	rest    []Store
}

// Fanout appends to the primary store, then to each secondary. Secondary
// failures are joined into the returned error but do not stop the others.
func Fanout(primary Store, secondaries ...Store) Store {
	return &fanout{primary: primary, rest: secondaries}
}

func (f *fanout) Append(ctx context.Context, event Event) error {
	if err := f.primary.Append(ctx, event); err != nil {
		return err
	}
	var errs []error
	for _, s := range f.rest {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListByActor delegates to the primary store when it supports reads.
func (f *fanout) ListByActor(ctx context.Context, actorID string) ([]Event, error) {
	if l, ok := f.primary.(Lister); ok {
		return l.ListByActor(ctx, actorID)
	}
	return nil, nil
}

func (f *fanout) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if l, ok := f.primary.(Lister); ok {
		return l.ListRecent(ctx, limit)
	}
	return nil, nil
}
