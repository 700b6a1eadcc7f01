package cache

import (
	"context"
	"errors"
)

// Tiered chains backends from fastest to most durable. Reads return the
// first hit and back-fill the tiers in front of it; writes go to every tier.
type Tiered struct {
	tiers []Backend
}

func NewTiered(tiers ...Backend) *Tiered {
	return &Tiered{tiers: tiers}
}

func (t *Tiered) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var errs []error
	for i, tier := range t.tiers {
		v, ok, err := tier.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, front := range t.tiers[:i] {
			// Best effort; the durable tier already holds the value.
			_ = front.Put(ctx, key, v)
		}
		return v, true, nil
	}
	return nil, false, errors.Join(errs...)
}

func (t *Tiered) Put(ctx context.Context, key Key, value []byte) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Put(ctx, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
