package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Season enumerates calendar seasons used by seasonal rules.
type Season string

const (
	// SeasonSpring covers March to May.
	SeasonSpring Season = "SPRING"
	// SeasonSummer covers June to August.
	SeasonSummer Season = "SUMMER"
	// SeasonAutumn covers September to November.
	SeasonAutumn Season = "AUTUMN"
	// SeasonWinter covers December to February.
	SeasonWinter Season = "WINTER"
	// SeasonAll matches every date.
	SeasonAll Season = "ALL"
)

// SeasonOf derives the calendar season of a date.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	case time.September, time.October, time.November:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}

// ParseSeason validates a stored season value.
func ParseSeason(s string) (Season, error) {
	switch Season(strings.ToUpper(strings.TrimSpace(s))) {
	case SeasonSpring:
		return SeasonSpring, nil
	case SeasonSummer:
		return SeasonSummer, nil
	case SeasonAutumn:
		return SeasonAutumn, nil
	case SeasonWinter:
		return SeasonWinter, nil
	case SeasonAll:
		return SeasonAll, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown season %q", ErrInvalidRule, s)
	}
}

// MonthRange is an inclusive month interval which may wrap across year end (11 -> 2).
type MonthRange struct {
	Start time.Month `json:"start_month"`
	End   time.Month `json:"end_month"`
}

// Contains reports whether the month falls inside the range.
func (r MonthRange) Contains(m time.Month) bool {
	if r.Start <= r.End {
		return m >= r.Start && m <= r.End
	}
	return m >= r.Start || m <= r.End
}

// Valid reports whether both ends are real months.
func (r MonthRange) Valid() bool {
	return r.Start >= time.January && r.Start <= time.December && r.End >= time.January && r.End <= time.December
}

// AdjustmentType enumerates seasonal adjustment arithmetic.
type AdjustmentType string

const (
	// AdjustmentPercentage adds unitPrice * value / 100.
	AdjustmentPercentage AdjustmentType = "PERCENTAGE"
	// AdjustmentFixed adds value per unit.
	AdjustmentFixed AdjustmentType = "FIXED"
	// AdjustmentMultiplier replaces unitPrice with unitPrice * value.
	AdjustmentMultiplier AdjustmentType = "MULTIPLIER"
)

// ParseAdjustmentType validates a stored adjustment type.
func ParseAdjustmentType(s string) (AdjustmentType, error) {
	switch AdjustmentType(strings.ToUpper(strings.TrimSpace(s))) {
	case AdjustmentPercentage:
		return AdjustmentPercentage, nil
	case AdjustmentFixed:
		return AdjustmentFixed, nil
	case AdjustmentMultiplier:
		return AdjustmentMultiplier, nil
	default:
		return "", fmt.Errorf("%w: unknown adjustment type %q", ErrInvalidRule, s)
	}
}

// ConflictStrategy decides how qualifying condition adjustments combine.
type ConflictStrategy string

const (
	// StrategyStack sums every qualifying adjustment.
	StrategyStack ConflictStrategy = "STACK"
	// StrategyMaxWins keeps the single strongest adjustment.
	StrategyMaxWins ConflictStrategy = "MAX_WINS"
)

// ParseConflictStrategy validates a stored conflict strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch ConflictStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyStack:
		return StrategyStack, nil
	case StrategyMaxWins, "MAXWINS":
		return StrategyMaxWins, nil
	default:
		return "", fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidRule, s)
	}
}

// Method enumerates absolute and percentage computations.
type Method string

const (
	// MethodAbsolute applies an amount per unit.
	MethodAbsolute Method = "ABS"
	// MethodPercent applies a percentage of a basis.
	MethodPercent Method = "PCT"
)

// ParseMethod validates a stored method.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(s))) {
	case MethodAbsolute:
		return MethodAbsolute, nil
	case MethodPercent:
		return MethodPercent, nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrInvalidRule, s)
	}
}

// RuleScope limits a condition rule to one SKU or to all SKUs.
type RuleScope string

const (
	// RuleScopeSKU matches the rule selector against the requested SKU.
	RuleScopeSKU RuleScope = "SKU"
	// RuleScopeAll matches every SKU.
	RuleScopeAll RuleScope = "ALL"
)

// ParseRuleScope validates a stored rule scope.
func ParseRuleScope(s string) (RuleScope, error) {
	switch RuleScope(strings.ToUpper(strings.TrimSpace(s))) {
	case RuleScopeSKU:
		return RuleScopeSKU, nil
	case RuleScopeAll:
		return RuleScopeAll, nil
	default:
		return "", fmt.Errorf("%w: unknown rule scope %q", ErrInvalidRule, s)
	}
}

// ChargeType enumerates charge and tax references.
type ChargeType string

const (
	// ChargeFee is a net-affecting fee.
	ChargeFee ChargeType = "FEE"
	// ChargeLevy is a net-affecting levy.
	ChargeLevy ChargeType = "LEVY"
	// ChargeSurcharge is a net-affecting surcharge.
	ChargeSurcharge ChargeType = "SURCHARGE"
	// ChargeVAT is the informational tax reference.
	ChargeVAT ChargeType = "VAT"
)

// ParseChargeType validates a stored charge type.
func ParseChargeType(s string) (ChargeType, error) {
	switch ChargeType(strings.ToUpper(strings.TrimSpace(s))) {
	case ChargeFee:
		return ChargeFee, nil
	case ChargeLevy:
		return ChargeLevy, nil
	case ChargeSurcharge:
		return ChargeSurcharge, nil
	case ChargeVAT:
		return ChargeVAT, nil
	default:
		return "", fmt.Errorf("%w: unknown charge type %q", ErrInvalidRule, s)
	}
}

// IsNetCharge reports whether the charge adds to the net total.
func (t ChargeType) IsNetCharge() bool {
	switch t {
	case ChargeFee, ChargeLevy, ChargeSurcharge:
		return true
	default:
		return false
	}
}

// ChargeScope limits a charge or tax reference.
type ChargeScope string

const (
	// ChargeScopeSKU matches one SKU.
	ChargeScopeSKU ChargeScope = "SKU"
	// ChargeScopeCommodity matches the SKU commodity prefix.
	ChargeScopeCommodity ChargeScope = "COMMODITY"
	// ChargeScopeAll is unscoped.
	ChargeScopeAll ChargeScope = "ALL"
)

// ParseChargeScope validates a stored charge scope.
func ParseChargeScope(s string) (ChargeScope, error) {
	switch ChargeScope(strings.ToUpper(strings.TrimSpace(s))) {
	case ChargeScopeSKU:
		return ChargeScopeSKU, nil
	case ChargeScopeCommodity:
		return ChargeScopeCommodity, nil
	case ChargeScopeAll, "":
		return ChargeScopeAll, nil
	default:
		return "", fmt.Errorf("%w: unknown charge scope %q", ErrInvalidRule, s)
	}
}

// ComponentType tags the pipeline stage that produced a component.
type ComponentType string

const (
	ComponentBase      ComponentType = "BASE"
	ComponentSeasonal  ComponentType = "SEASONAL"
	ComponentCondition ComponentType = "CONDITION"
	ComponentDynamic   ComponentType = "DYNAMIC"
	ComponentCharge    ComponentType = "CHARGE"
	ComponentTax       ComponentType = "TAX"
)

// QuoteStatus enumerates the quote lifecycle.
type QuoteStatus string

const (
	// QuotePending means stages are still running.
	QuotePending QuoteStatus = "PENDING"
	// QuoteCalculated means the quote is persisted and frozen.
	QuoteCalculated QuoteStatus = "CALCULATED"
	// QuoteExpired is reached only by the passage of time.
	QuoteExpired QuoteStatus = "EXPIRED"
)

// Validity is a half-open time window. A zero ValidFrom has no lower bound and
// a nil ValidTo is unbounded.
type Validity struct {
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// ValidAt reports whether t lies within [ValidFrom, ValidTo).
func (v Validity) ValidAt(t time.Time) bool {
	if !v.ValidFrom.IsZero() && t.Before(v.ValidFrom) {
		return false
	}
	if v.ValidTo != nil && !t.Before(*v.ValidTo) {
		return false
	}
	return true
}

// TierBreak is a quantity threshold price.
type TierBreak struct {
	MinQty decimal.Decimal  `json:"min_qty"`
	MaxQty *decimal.Decimal `json:"max_qty,omitempty"`
	Price  decimal.Decimal  `json:"price"`
}

// Qualifies reports whether qty falls into the tier.
func (t TierBreak) Qualifies(qty decimal.Decimal) bool {
	if qty.LessThan(t.MinQty) {
		return false
	}
	return t.MaxQty == nil || qty.LessThanOrEqual(*t.MaxQty)
}

// PriceListLine is the base price of one SKU.
type PriceListLine struct {
	SKU        string          `json:"sku"`
	BasePrice  decimal.Decimal `json:"base_price"`
	Currency   string          `json:"currency"`
	UOM        string          `json:"uom"`
	TierBreaks []TierBreak     `json:"tier_breaks,omitempty"`
	Active     bool            `json:"active"`
}

// PriceList groups the lines of one tenant price list.
type PriceList struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	Name     string          `json:"name"`
	Active   bool            `json:"active"`
	Lines    []PriceListLine `json:"lines"`
	Validity
}

// Line returns the active line for sku.
func (l PriceList) Line(sku string) (PriceListLine, bool) {
	for _, line := range l.Lines {
		if line.Active && line.SKU == sku {
			return line, true
		}
	}
	return PriceListLine{}, false
}

// newer orders competing records: latest ValidFrom first, then lowest id.
func newer(from time.Time, id string, bestFrom time.Time, bestID string) bool {
	return from.After(bestFrom) || (from.Equal(bestFrom) && id < bestID)
}

// SelectPriceList picks the newest active list valid at at.
func SelectPriceList(lists []PriceList, at time.Time) (PriceList, bool) {
	var (
		best  PriceList
		found bool
	)
	for _, pl := range lists {
		if !pl.Active || !pl.ValidAt(at) {
			continue
		}
		if !found || newer(pl.ValidFrom, pl.ID, best.ValidFrom, best.ID) {
			best, found = pl, true
		}
	}
	return best, found
}

// ProductScope carries the optional scope keys used by seasonal rules.
type ProductScope struct {
	ProductID string
	Commodity string
	Category  string
}

// SeasonalRule is a time-of-year unit price adjustment.
type SeasonalRule struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ProductID       string          `json:"product_id,omitempty"`
	Commodity       string          `json:"commodity,omitempty"`
	Category        string          `json:"category,omitempty"`
	Season          Season          `json:"season,omitempty"`
	MonthRange      *MonthRange     `json:"month_range,omitempty"`
	AdjustmentType  AdjustmentType  `json:"adjustment_type"`
	AdjustmentValue decimal.Decimal `json:"adjustment_value"`
	Priority        int             `json:"priority"`
	Active          bool            `json:"active"`
	Validity
}

// ConditionRule is one discount or markup inside a condition set.
type ConditionRule struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Scope       RuleScope        `json:"scope"`
	Selector    string           `json:"selector,omitempty"`
	Method      Method           `json:"method"`
	Value       decimal.Decimal  `json:"value"`
	MinQty      *decimal.Decimal `json:"min_qty,omitempty"`
	MaxQty      *decimal.Decimal `json:"max_qty,omitempty"`
	Channel     string           `json:"channel,omitempty"`
	Stackable   *bool            `json:"stackable,omitempty"`
	Description string           `json:"description,omitempty"`
	Validity
}

// ConditionSet is an ordered group of rules keyed to a customer or segment.
type ConditionSet struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	Key              string           `json:"key"`
	Rules            []ConditionRule  `json:"rules"`
	ConflictStrategy ConflictStrategy `json:"conflict_strategy"`
	Priority         int              `json:"priority"`
	Active           bool             `json:"active"`
	Validity
}

// DynamicFormula is an externally evaluated unit price override.
type DynamicFormula struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Scope      string `json:"scope"`
	Expression string `json:"expression"`
	Active     bool   `json:"active"`
	Validity
}

// SelectFormula picks the newest active formula for scope valid at at, or nil.
func SelectFormula(formulas []DynamicFormula, scope string, at time.Time) *DynamicFormula {
	var best *DynamicFormula
	for i := range formulas {
		f := formulas[i]
		if !f.Active || f.Scope != scope || !f.ValidAt(at) {
			continue
		}
		if best == nil || newer(f.ValidFrom, f.ID, best.ValidFrom, best.ID) {
			best = &f
		}
	}
	return best
}

// TaxChargeRef is a fee, levy, surcharge or VAT reference.
type TaxChargeRef struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Type         ChargeType      `json:"type"`
	Method       Method          `json:"method"`
	RateOrAmount decimal.Decimal `json:"rate_or_amount"`
	Scope        ChargeScope     `json:"scope"`
	ScopeValue   string          `json:"scope_value,omitempty"`
	Description  string          `json:"description,omitempty"`
	Active       bool            `json:"active"`
	Validity
}

// ChargeLookup carries the scope keys used to find charges and taxes.
type ChargeLookup struct {
	SKU       string
	Commodity string
}

// Component is one line of the quote audit trail.
type Component struct {
	Type           ComponentType    `json:"type"`
	Key            string           `json:"key"`
	Description    string           `json:"description"`
	Value          decimal.Decimal  `json:"value"`
	Basis          *decimal.Decimal `json:"basis,omitempty"`
	CalculatedFrom string           `json:"calculated_from,omitempty"`
}

// Quote is the immutable result of one calculation.
type Quote struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Inputs       Request         `json:"inputs"`
	Components   []Component     `json:"components"`
	TotalNet     decimal.Decimal `json:"total_net"`
	TotalGross   decimal.Decimal `json:"total_gross"`
	Currency     string          `json:"currency"`
	CalculatedAt time.Time       `json:"calculated_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CreatedBy    string          `json:"created_by"`
	Signature    string          `json:"signature,omitempty"`
}

// Status reports the lifecycle state observed at now.
func (q Quote) Status(now time.Time) QuoteStatus {
	if q.ID == uuid.Nil || q.CalculatedAt.IsZero() {
		return QuotePending
	}
	if q.Expired(now) {
		return QuoteExpired
	}
	return QuoteCalculated
}

// Expired reports whether now is past the quote TTL.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// EventQuoteCalculated is the notification emitted after a quote is persisted.
const EventQuoteCalculated = "quote.calculated"

// QuoteCalculatedEvent omits every price value.
type QuoteCalculatedEvent struct {
	TenantID   string          `json:"tenant_id"`
	QuoteID    uuid.UUID       `json:"quote_id"`
	CustomerID string          `json:"customer_id"`
	SKU        string          `json:"sku"`
	Qty        decimal.Decimal `json:"qty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
