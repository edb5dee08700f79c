package pricing

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Context keys understood by the engine. Other keys pass through to the
// formula evaluator untouched.
const (
	ContextOrderDate = "orderDate"
	ContextCommodity = "commodity"
	ContextCategory  = "category"
	ContextProductID = "productId"
	ContextSegments  = "segments"
)

// Request is the immutable quote input.
type Request struct {
	TenantID   string          `json:"tenant_id" validate:"required,max=64"`
	SKU        string          `json:"sku" validate:"required,max=128"`
	Qty        decimal.Decimal `json:"qty"`
	CustomerID string          `json:"customer_id,omitempty" validate:"max=64"`
	Channel    string          `json:"channel,omitempty" validate:"max=32"`
	Context    map[string]any  `json:"context,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the required scope fields and quantity.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidRequest, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !r.Qty.IsPositive() {
		return fmt.Errorf("%w: qty must be greater than zero", ErrInvalidRequest)
	}
	if _, err := r.OrderDate(time.Time{}); err != nil {
		return err
	}
	return nil
}

// OrderDate resolves the order date from context, defaulting to now.
func (r Request) OrderDate(now time.Time) (time.Time, error) {
	raw, ok := r.Context[ContextOrderDate]
	if !ok || raw == nil {
		return now, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return now, nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: orderDate %q is not a date", ErrInvalidRequest, v)
	default:
		return time.Time{}, fmt.Errorf("%w: orderDate has unsupported type %T", ErrInvalidRequest, raw)
	}
}

// CommodityPrefix returns the SKU segment before the first dash.
func CommodityPrefix(sku string) string {
	if i := strings.Index(sku, "-"); i >= 0 {
		return sku[:i]
	}
	return sku
}

// Commodity returns the caller supplied commodity or the SKU prefix.
func (r Request) Commodity() string {
	if v := r.contextString(ContextCommodity); v != "" {
		return v
	}
	return CommodityPrefix(r.SKU)
}

// ProductScope builds the seasonal lookup scope.
func (r Request) ProductScope() ProductScope {
	product := r.contextString(ContextProductID)
	if product == "" {
		product = r.SKU
	}
	return ProductScope{
		ProductID: product,
		Commodity: r.Commodity(),
		Category:  r.contextString(ContextCategory),
	}
}

// ConditionKeys returns the customer id followed by any segment keys.
func (r Request) ConditionKeys() []string {
	var keys []string
	if r.CustomerID != "" {
		keys = append(keys, r.CustomerID)
	}
	switch v := r.Context[ContextSegments].(type) {
	case []string:
		keys = appendKeys(keys, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				keys = appendKeys(keys, s)
			}
		}
	case string:
		keys = appendKeys(keys, strings.Split(v, ",")...)
	}
	return keys
}

func appendKeys(keys []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, k := range keys {
			if k == v {
				dup = true
				break
			}
		}
		if !dup {
			keys = append(keys, v)
		}
	}
	return keys
}

// FormulaVars copies the caller context and adds sku and qty when absent.
func (r Request) FormulaVars() map[string]any {
	vars := make(map[string]any, len(r.Context)+2)
	for k, v := range r.Context {
		vars[k] = v
	}
	if _, ok := vars["sku"]; !ok {
		vars["sku"] = r.SKU
	}
	if _, ok := vars["qty"]; !ok {
		vars["qty"] = r.Qty.String()
	}
	return vars
}

func (r Request) contextString(key string) string {
	if v, ok := r.Context[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

type actorContextKey struct{}

// ContextWithActor stores the calculating actor in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the calculating actor or "system".
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
