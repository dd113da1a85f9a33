package errorcatcher

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Composite fans Record out to an ordered list of catchers. List and Count
// come from the first one, the primary.
type Composite struct {
	catchers []Catcher
	failFast bool
}

// NewComposite panics without catchers.
func NewComposite(catchers ...Catcher) *Composite {
	if len(catchers) == 0 {
		panic("errorcatcher: composite needs at least one catcher")
	}
	return &Composite{catchers: catchers}
}

// FailFast makes Record stop at the first failing catcher instead of trying
// the remaining ones.
func (c *Composite) FailFast() *Composite {
	c.failFast = true
	return c
}

func (c *Composite) Name() string {
	names := make([]string, 0, len(c.catchers))
	for _, k := range c.catchers {
		names = append(names, k.Name())
	}
	return strings.Join(names, "+")
}

// Primary returns the catcher serving List and Count.
func (c *Composite) Primary() Catcher { return c.catchers[0] }

// Record writes to every catcher in order. Failures are combined; the caller
// sees them even when other catchers succeeded.
func (c *Composite) Record(ctx context.Context, ce CaughtError) error {
	var errs error
	for _, k := range c.catchers {
		if err := k.Record(ctx, ce); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", k.Name(), err))
			if c.failFast {
				break
			}
		}
	}
	return errs
}

func (c *Composite) List(ctx context.Context) ([]CaughtError, error) {
	return c.Primary().List(ctx)
}

func (c *Composite) Count(ctx context.Context) (int, error) {
	return c.Primary().Count(ctx)
}
