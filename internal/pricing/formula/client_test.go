package formula

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/evaluate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var body evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "index * 2", body.Expression)
		require.Equal(t, "MILK-1L", body.Context["sku"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"roundedValue": 12.35}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	res, err := c.Evaluate(context.Background(), "index * 2", map[string]any{"sku": "MILK-1L"})
	require.NoError(t, err)
	require.Equal(t, "12.35", res.RoundedValue.String())
}

func TestClientEvaluateErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error with message", http.StatusUnprocessableEntity, `{"error":"unknown variable"}`, "formula evaluation failed with status 422: unknown variable"},
		{"server error", http.StatusBadGateway, ``, "formula evaluation failed with status 502"},
		{"missing value", http.StatusOK, `{}`, "formula: response missing roundedValue"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Evaluate(context.Background(), "x", nil)
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	require.NoError(t, NewClient(srv.URL, time.Second).Ping(context.Background()))
}

func TestLiteralEvaluator(t *testing.T) {
	res, err := LiteralEvaluator{}.Evaluate(context.Background(), " 10.555 ", nil)
	require.NoError(t, err)
	require.Equal(t, "10.56", res.RoundedValue.String())

	_, err = LiteralEvaluator{}.Evaluate(context.Background(), "base * 2", nil)
	require.ErrorIs(t, err, ErrUnsupported)
}
