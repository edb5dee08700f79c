package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// DBTX is the subset of pgxpool.Pool the store needs.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore reads tenant rules from PostgreSQL. Apart from the Find
// lookups for the price list and formula, queries return every rule that has
// not yet expired and leave the validity check at the calculation instant to
// the engine, so cached results stay correct as rules come into force.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore constructs a store over a pool or transaction.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ pricing.RuleStore = (*PostgresStore)(nil)
	_ CandidateSource   = (*PostgresStore)(nil)
)

// FindActivePriceList returns the newest active list valid at at.
func (s *PostgresStore) FindActivePriceList(ctx context.Context, tenantID string, at time.Time) (pricing.PriceList, error) {
	const q = `
		SELECT id, tenant_id, name, active, valid_from, valid_to
		FROM price_lists
		WHERE tenant_id = $1 AND active
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_to IS NULL OR valid_to > $2)
		ORDER BY valid_from DESC NULLS LAST, id
		LIMIT 1
	`
	var (
		list pricing.PriceList
		from *time.Time
	)
	err := s.db.QueryRow(ctx, q, tenantID, at).Scan(&list.ID, &list.TenantID, &list.Name, &list.Active, &from, &list.ValidTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.PriceList{}, fmt.Errorf("%w: no active price list for tenant %s", pricing.ErrRuleNotFound, tenantID)
		}
		return pricing.PriceList{}, fmt.Errorf("query price list: %w", err)
	}
	list.ValidFrom = derefTime(from)

	lines, err := s.priceListLines(ctx, []string{list.ID})
	if err != nil {
		return pricing.PriceList{}, err
	}
	list.Lines = lines[list.ID]
	return list, nil
}

// PriceListCandidates returns every active list not yet expired at at,
// future-dated lists included.
func (s *PostgresStore) PriceListCandidates(ctx context.Context, tenantID string, at time.Time) ([]pricing.PriceList, error) {
	const q = `
		SELECT id, tenant_id, name, active, valid_from, valid_to
		FROM price_lists
		WHERE tenant_id = $1 AND active
		  AND (valid_to IS NULL OR valid_to > $2)
		ORDER BY valid_from DESC NULLS LAST, id
	`
	rows, err := s.db.Query(ctx, q, tenantID, at)
	if err != nil {
		return nil, fmt.Errorf("query price lists: %w", err)
	}
	defer rows.Close()

	var (
		out []pricing.PriceList
		ids []string
	)
	for rows.Next() {
		var (
			list pricing.PriceList
			from *time.Time
		)
		if err := rows.Scan(&list.ID, &list.TenantID, &list.Name, &list.Active, &from, &list.ValidTo); err != nil {
			return nil, fmt.Errorf("scan price list: %w", err)
		}
		list.ValidFrom = derefTime(from)
		out = append(out, list)
		ids = append(ids, list.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query price lists: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lines, err := s.priceListLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (s *PostgresStore) priceListLines(ctx context.Context, listIDs []string) (map[string][]pricing.PriceListLine, error) {
	const q = `
		SELECT price_list_id, sku, base_price::text, currency, uom, active, tier_breaks
		FROM price_list_lines
		WHERE price_list_id = ANY($1)
		ORDER BY price_list_id, sku
	`
	rows, err := s.db.Query(ctx, q, listIDs)
	if err != nil {
		return nil, fmt.Errorf("query price list lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[string][]pricing.PriceListLine, len(listIDs))
	for rows.Next() {
		var (
			listID string
			line   pricing.PriceListLine
			base   string
			tiers  []byte
		)
		if err := rows.Scan(&listID, &line.SKU, &base, &line.Currency, &line.UOM, &line.Active, &tiers); err != nil {
			return nil, fmt.Errorf("scan price list line: %w", err)
		}
		if line.BasePrice, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("%w: base price of %s: %v", pricing.ErrInvalidRule, line.SKU, err)
		}
		if err := validCurrency(line.Currency); err != nil {
			return nil, err
		}
		if len(tiers) > 0 {
			if err := json.Unmarshal(tiers, &line.TierBreaks); err != nil {
				return nil, fmt.Errorf("%w: tier breaks of %s: %v", pricing.ErrInvalidRule, line.SKU, err)
			}
		}
		lines[listID] = append(lines[listID], line)
	}
	return lines, rows.Err()
}

// FindSeasonalRules lists rules matching the scope, wildcards included.
func (s *PostgresStore) FindSeasonalRules(ctx context.Context, tenantID string, scope pricing.ProductScope, at time.Time) ([]pricing.SeasonalRule, error) {
	const q = `
		SELECT id, tenant_id, product_id, commodity, category, season, start_month, end_month,
		       adjustment_type, adjustment_value::text, priority, active, valid_from, valid_to
		FROM seasonal_rules
		WHERE tenant_id = $1 AND active
		  AND (valid_to IS NULL OR valid_to > $2)
		  AND (product_id = '' OR product_id = $3)
		  AND (commodity = '' OR lower(commodity) = lower($4))
		  AND (category = '' OR lower(category) = lower($5))
		ORDER BY priority DESC, id
	`
	rows, err := s.db.Query(ctx, q, tenantID, at, scope.ProductID, scope.Commodity, scope.Category)
	if err != nil {
		return nil, fmt.Errorf("query seasonal rules: %w", err)
	}
	defer rows.Close()

	var out []pricing.SeasonalRule
	for rows.Next() {
		var (
			r               pricing.SeasonalRule
			season, adjType string
			value           string
			startM, endM    *int
			from            *time.Time
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ProductID, &r.Commodity, &r.Category, &season, &startM, &endM,
			&adjType, &value, &r.Priority, &r.Active, &from, &r.ValidTo); err != nil {
			return nil, fmt.Errorf("scan seasonal rule: %w", err)
		}
		if r.Season, err = pricing.ParseSeason(season); err != nil {
			return nil, err
		}
		if r.AdjustmentType, err = pricing.ParseAdjustmentType(adjType); err != nil {
			return nil, err
		}
		if r.AdjustmentValue, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("%w: seasonal rule %s value: %v", pricing.ErrInvalidRule, r.ID, err)
		}
		if startM != nil && endM != nil {
			mr := pricing.MonthRange{Start: time.Month(*startM), End: time.Month(*endM)}
			if !mr.Valid() {
				return nil, fmt.Errorf("%w: seasonal rule %s month range %d-%d", pricing.ErrInvalidRule, r.ID, *startM, *endM)
			}
			r.MonthRange = &mr
		}
		r.ValidFrom = derefTime(from)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindConditionSets lists sets keyed to any of keys together with their rules.
func (s *PostgresStore) FindConditionSets(ctx context.Context, tenantID string, keys []string, at time.Time) ([]pricing.ConditionSet, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	const q = `
		SELECT id, tenant_id, key, conflict_strategy, priority, active, valid_from, valid_to
		FROM condition_sets
		WHERE tenant_id = $1 AND active AND key = ANY($2)
		  AND (valid_to IS NULL OR valid_to > $3)
		ORDER BY priority DESC, id
	`
	rows, err := s.db.Query(ctx, q, tenantID, keys, at)
	if err != nil {
		return nil, fmt.Errorf("query condition sets: %w", err)
	}
	defer rows.Close()

	var (
		sets  []pricing.ConditionSet
		ids   []string
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			set      pricing.ConditionSet
			strategy string
			from     *time.Time
		)
		if err := rows.Scan(&set.ID, &set.TenantID, &set.Key, &strategy, &set.Priority, &set.Active, &from, &set.ValidTo); err != nil {
			return nil, fmt.Errorf("scan condition set: %w", err)
		}
		if set.ConflictStrategy, err = pricing.ParseConflictStrategy(strategy); err != nil {
			return nil, err
		}
		set.ValidFrom = derefTime(from)
		index[set.ID] = len(sets)
		ids = append(ids, set.ID)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}

	rules, err := s.conditionRules(ctx, ids, at)
	if err != nil {
		return nil, err
	}
	for setID, list := range rules {
		if i, ok := index[setID]; ok {
			sets[i].Rules = list
		}
	}
	return sets, nil
}

func (s *PostgresStore) conditionRules(ctx context.Context, setIDs []string, at time.Time) (map[string][]pricing.ConditionRule, error) {
	const q = `
		SELECT set_id, id, type, scope, selector, method, value::text, min_qty::text, max_qty::text,
		       channel, stackable, description, valid_from, valid_to
		FROM condition_rules
		WHERE set_id = ANY($1)
		  AND (valid_to IS NULL OR valid_to > $2)
		ORDER BY set_id, position, id
	`
	rows, err := s.db.Query(ctx, q, setIDs, at)
	if err != nil {
		return nil, fmt.Errorf("query condition rules: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]pricing.ConditionRule)
	for rows.Next() {
		var (
			setID, scope, method, value string
			minQty, maxQty              *string
			from                        *time.Time
			r                           pricing.ConditionRule
		)
		if err := rows.Scan(&setID, &r.ID, &r.Type, &scope, &r.Selector, &method, &value, &minQty, &maxQty,
			&r.Channel, &r.Stackable, &r.Description, &from, &r.ValidTo); err != nil {
			return nil, fmt.Errorf("scan condition rule: %w", err)
		}
		if r.Scope, err = pricing.ParseRuleScope(scope); err != nil {
			return nil, err
		}
		if r.Method, err = pricing.ParseMethod(method); err != nil {
			return nil, err
		}
		if r.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("%w: condition rule %s value: %v", pricing.ErrInvalidRule, r.ID, err)
		}
		if r.MinQty, err = optionalDecimal(minQty); err != nil {
			return nil, fmt.Errorf("%w: condition rule %s min qty: %v", pricing.ErrInvalidRule, r.ID, err)
		}
		if r.MaxQty, err = optionalDecimal(maxQty); err != nil {
			return nil, fmt.Errorf("%w: condition rule %s max qty: %v", pricing.ErrInvalidRule, r.ID, err)
		}
		r.ValidFrom = derefTime(from)
		out[setID] = append(out[setID], r)
	}
	return out, rows.Err()
}

// FindDynamicFormula returns the newest active formula for scope valid at at, or nil.
func (s *PostgresStore) FindDynamicFormula(ctx context.Context, tenantID, scope string, at time.Time) (*pricing.DynamicFormula, error) {
	const q = `
		SELECT id, tenant_id, scope, expression, active, valid_from, valid_to
		FROM dynamic_formulas
		WHERE tenant_id = $1 AND scope = $2 AND active
		  AND (valid_from IS NULL OR valid_from <= $3)
		  AND (valid_to IS NULL OR valid_to > $3)
		ORDER BY valid_from DESC NULLS LAST, id
		LIMIT 1
	`
	var (
		f    pricing.DynamicFormula
		from *time.Time
	)
	err := s.db.QueryRow(ctx, q, tenantID, scope, at).Scan(&f.ID, &f.TenantID, &f.Scope, &f.Expression, &f.Active, &from, &f.ValidTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query dynamic formula: %w", err)
	}
	f.ValidFrom = derefTime(from)
	return &f, nil
}

// FormulaCandidates returns every active formula for scope not yet expired at at.
func (s *PostgresStore) FormulaCandidates(ctx context.Context, tenantID, scope string, at time.Time) ([]pricing.DynamicFormula, error) {
	const q = `
		SELECT id, tenant_id, scope, expression, active, valid_from, valid_to
		FROM dynamic_formulas
		WHERE tenant_id = $1 AND scope = $2 AND active
		  AND (valid_to IS NULL OR valid_to > $3)
		ORDER BY valid_from DESC NULLS LAST, id
	`
	rows, err := s.db.Query(ctx, q, tenantID, scope, at)
	if err != nil {
		return nil, fmt.Errorf("query dynamic formulas: %w", err)
	}
	defer rows.Close()

	var out []pricing.DynamicFormula
	for rows.Next() {
		var (
			f    pricing.DynamicFormula
			from *time.Time
		)
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Scope, &f.Expression, &f.Active, &from, &f.ValidTo); err != nil {
			return nil, fmt.Errorf("scan dynamic formula: %w", err)
		}
		f.ValidFrom = derefTime(from)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindCharges lists FEE, LEVY and SURCHARGE references covering the lookup.
func (s *PostgresStore) FindCharges(ctx context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time) ([]pricing.TaxChargeRef, error) {
	return s.taxCharges(ctx, tenantID, scope, at, []string{string(pricing.ChargeFee), string(pricing.ChargeLevy), string(pricing.ChargeSurcharge)})
}

// FindTax lists VAT references covering the lookup.
func (s *PostgresStore) FindTax(ctx context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time) ([]pricing.TaxChargeRef, error) {
	return s.taxCharges(ctx, tenantID, scope, at, []string{string(pricing.ChargeVAT)})
}

func (s *PostgresStore) taxCharges(ctx context.Context, tenantID string, scope pricing.ChargeLookup, at time.Time, types []string) ([]pricing.TaxChargeRef, error) {
	const q = `
		SELECT id, tenant_id, type, method, rate_or_amount::text, scope, scope_value, description,
		       active, valid_from, valid_to
		FROM tax_charges
		WHERE tenant_id = $1 AND active AND type = ANY($2)
		  AND (valid_to IS NULL OR valid_to > $3)
		  AND (scope = 'ALL'
		       OR (scope = 'SKU' AND scope_value = $4)
		       OR (scope = 'COMMODITY' AND lower(scope_value) = lower($5)))
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, q, tenantID, types, at, scope.SKU, scope.Commodity)
	if err != nil {
		return nil, fmt.Errorf("query tax charges: %w", err)
	}
	defer rows.Close()

	var out []pricing.TaxChargeRef
	for rows.Next() {
		var (
			r                          pricing.TaxChargeRef
			typ, method, amount, scope string
			from                       *time.Time
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &typ, &method, &amount, &scope, &r.ScopeValue, &r.Description,
			&r.Active, &from, &r.ValidTo); err != nil {
			return nil, fmt.Errorf("scan tax charge: %w", err)
		}
		if r.Type, err = pricing.ParseChargeType(typ); err != nil {
			return nil, err
		}
		if r.Method, err = pricing.ParseMethod(method); err != nil {
			return nil, err
		}
		if r.Scope, err = pricing.ParseChargeScope(scope); err != nil {
			return nil, err
		}
		if r.RateOrAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("%w: charge %s amount: %v", pricing.ErrInvalidRule, r.ID, err)
		}
		r.ValidFrom = derefTime(from)
		out = append(out, r)
	}
	return out, rows.Err()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func optionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func validCurrency(code string) error {
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: currency %q: %v", pricing.ErrInvalidRule, code, err)
	}
	return nil
}
