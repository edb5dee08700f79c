// Package notify delivers quote lifecycle events.
package notify

import (
	"context"
	"errors"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// Fanout publishes to every notifier and joins their errors.
type Fanout []pricing.Notifier

// Publish implements pricing.Notifier.
func (f Fanout) Publish(ctx context.Context, evt pricing.QuoteCalculatedEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
