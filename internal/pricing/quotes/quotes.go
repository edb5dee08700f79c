// Package quotes holds the QuoteStore backends.
package quotes

import (
	"errors"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// ErrDuplicateQuote reports a second write of the same quote id.
var ErrDuplicateQuote = errors.New("quotes: duplicate quote id")

// visible applies the tenant and lazy expiry checks shared by every backend.
func visible(q pricing.Quote, tenantID string, clk clock.Clock) (pricing.Quote, error) {
	if q.TenantID != tenantID || q.Expired(clk.Now()) {
		return pricing.Quote{}, pricing.ErrQuoteNotFound
	}
	return q, nil
}
