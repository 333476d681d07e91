package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

type fakeStatus struct {
	summary model.CycleSummary
}

func (f *fakeStatus) LastSummary() model.CycleSummary { return f.summary }

type fakeAllocations struct{}

func (fakeAllocations) Allocations() map[string]float64 {
	return map[string]float64{"brain": 1}
}

type fakeOrders struct {
	strategy string
}

func (f *fakeOrders) OrderHistory(_ context.Context, strategyName string, _ int) ([]model.Order, error) {
	f.strategy = strategyName
	return []model.Order{{ID: "sim-1", Symbol: "BTC", Side: model.Buy, Status: model.OrderFilled}}, nil
}

func TestStatusHandler(t *testing.T) {
	status := &fakeStatus{summary: model.CycleSummary{
		Cycle: 3,
		Portfolio: model.PortfolioState{
			CashBalance: 100,
			TotalValue:  250,
		},
	}}
	orders := &fakeOrders{}
	handler := NewStatusHandler(status, fakeAllocations{}, orders, logger.Nop())

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var summary model.CycleSummary
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, 3, summary.Cycle)
	})

	t.Run("portfolio", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var state model.PortfolioState
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &state))
		assert.InDelta(t, 250, state.TotalValue, 1e-9)
	})

	t.Run("strategies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var allocations map[string]float64
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &allocations))
		assert.InDelta(t, 1, allocations["brain"], 1e-9)
	})

	t.Run("orders", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders?strategy=brain", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "brain", orders.strategy)

		var history []model.Order
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &history))
		require.Len(t, history, 1)
		assert.Equal(t, "sim-1", history[0].ID)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
