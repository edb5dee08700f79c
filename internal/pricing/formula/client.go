package formula

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// ErrUnsupported is returned by LiteralEvaluator for non-numeric expressions.
var ErrUnsupported = errors.New("formula: expression not supported")

// Client evaluates expressions against a remote evaluator service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client with a bounded timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ pricing.FormulaEvaluator = (*Client)(nil)

type evaluateRequest struct {
	Expression string         `json:"expression"`
	Context    map[string]any `json:"context"`
}

type evaluateResponse struct {
	RoundedValue *decimal.Decimal `json:"roundedValue"`
	Error        string           `json:"error,omitempty"`
}

// Ping checks if the evaluator is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("formula evaluator returned status %d", resp.StatusCode)
	}
	return nil
}

// Evaluate posts the expression and context and returns the rounded value.
func (c *Client) Evaluate(ctx context.Context, expression string, vars map[string]any) (pricing.FormulaResult, error) {
	payload, err := json.Marshal(evaluateRequest{Expression: expression, Context: vars})
	if err != nil {
		return pricing.FormulaResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(payload))
	if err != nil {
		return pricing.FormulaResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pricing.FormulaResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pricing.FormulaResult{}, err
	}

	var out evaluateResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode < 400 {
			return pricing.FormulaResult{}, fmt.Errorf("formula: decode response: %w", err)
		}
	}
	if resp.StatusCode >= 400 {
		if out.Error != "" {
			return pricing.FormulaResult{}, fmt.Errorf("formula evaluation failed with status %d: %s", resp.StatusCode, out.Error)
		}
		return pricing.FormulaResult{}, fmt.Errorf("formula evaluation failed with status %d", resp.StatusCode)
	}
	if out.RoundedValue == nil {
		return pricing.FormulaResult{}, errors.New("formula: response missing roundedValue")
	}
	return pricing.FormulaResult{RoundedValue: *out.RoundedValue}, nil
}

// LiteralEvaluator accepts expressions that are plain decimal numbers. It
// stands in when no evaluator service is configured.
type LiteralEvaluator struct{}

// Evaluate implements pricing.FormulaEvaluator.
func (LiteralEvaluator) Evaluate(_ context.Context, expression string, _ map[string]any) (pricing.FormulaResult, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(expression))
	if err != nil {
		return pricing.FormulaResult{}, fmt.Errorf("%w: %q", ErrUnsupported, expression)
	}
	return pricing.FormulaResult{RoundedValue: pricing.Round2(v)}, nil
}
