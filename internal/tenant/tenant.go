// Package tenant carries the calling tenant through request contexts.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/httpx"
)

// Header is the request header naming the tenant.
const Header = "X-Tenant-ID"

var (
	// ErrNotSpecified occurs when the request carries no tenant id.
	ErrNotSpecified = errors.New("tenant: id not specified")
	// ErrUnknown occurs when the validator rejects the tenant.
	ErrUnknown = errors.New("tenant: unknown tenant")
)

type contextKey struct{}

// WithTenant stores the tenant id in ctx.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the tenant id stored in ctx.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || id == "" {
		return "", ErrNotSpecified
	}
	return id, nil
}

// Validator decides whether a tenant may use the service.
type Validator interface {
	ValidateTenant(ctx context.Context, id string) (bool, error)
}

// AllowList accepts the listed tenants. An empty list accepts everyone.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList from ids, ignoring blanks.
func NewAllowList(ids ...string) AllowList {
	list := AllowList{}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			list[id] = struct{}{}
		}
	}
	return list
}

// ValidateTenant implements Validator.
func (l AllowList) ValidateTenant(_ context.Context, id string) (bool, error) {
	if len(l) == 0 {
		return true, nil
	}
	_, ok := l[id]
	return ok, nil
}

// Middleware requires the tenant header on every request and stores the id in
// the request context. A nil validator accepts any non-empty id.
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(Header))
			if id == "" {
				httpx.Problem(w, http.StatusBadRequest, "Tenant Required", "header "+Header+" is required")
				return
			}
			if v != nil {
				ok, err := v.ValidateTenant(r.Context(), id)
				if err != nil {
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				if !ok {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", ErrUnknown.Error())
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), id)))
		})
	}
}

// KeyByTenant is an httprate key function that buckets requests per tenant.
func KeyByTenant(r *http.Request) (string, error) {
	if id, err := FromContext(r.Context()); err == nil {
		return "tenant:" + id, nil
	}
	if id := strings.TrimSpace(r.Header.Get(Header)); id != "" {
		return "tenant:" + id, nil
	}
	return "", ErrNotSpecified
}
