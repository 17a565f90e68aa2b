package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
)

type mockProvider struct {
	id       string
	category types.Category
	seenCtx  context.Context
}

func (m *mockProvider) Definition() types.Service {
	category := m.category
	if category == "" {
		category = types.CategoryProcess
	}
	return types.Service{
		ID:           m.id,
		Name:         "Mock Service",
		Description:  "A mock service for testing shells",
		Category:     category,
		Capabilities: []string{"run_command", "sessions"},
		Tools: []types.Tool{
			{ID: m.id + ".ok", Name: "OK", Description: "Succeeds", Returns: "string"},
			{ID: m.id + ".fail", Name: "Fail", Description: "Reports failure", Returns: "string"},
			{ID: m.id + ".error", Name: "Error", Description: "Errors", Returns: "string"},
		},
	}
}

func (m *mockProvider) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	m.seenCtx = ctx
	switch toolID {
	case m.id + ".ok":
		return types.Success(map[string]interface{}{"result": "success"}), nil
	case m.id + ".fail":
		return types.Failure("exit 1", map[string]interface{}{"ok": false}), nil
	default:
		return nil, errors.New("boom")
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "test"}))

	_, ok := r.Get("test")
	assert.True(t, ok)

	assert.EqualError(t, r.Register(&mockProvider{}), "service ID cannot be empty")

	r.Unregister("test")
	_, ok = r.Get("test")
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "b"}))
	require.NoError(t, r.Register(&mockProvider{id: "a", category: types.CategorySystem}))

	services := r.List(nil)
	require.Len(t, services, 2)
	assert.Equal(t, "a", services[0].ID)
	assert.Equal(t, "b", services[1].ID)

	cat := types.CategorySystem
	filtered := r.List(&cat)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].ID)
}

func TestDiscover(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "terminal"}))
	require.NoError(t, r.Register(&mockProvider{id: "other"}))

	results := r.Discover("open a terminal and run command", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "terminal", results[0].ID)

	assert.Len(t, r.Discover("terminal", 1), 1)
	assert.Len(t, r.Discover("Run-Command", 5), 2, "capability words match regardless of separators")
	assert.Empty(t, r.Discover("zzz", 5))
}

func TestExecuteRoutesAndRecords(t *testing.T) {
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	r := NewRegistry(WithMetrics(metrics))
	p := &mockProvider{id: "test"}
	require.NoError(t, r.Register(p))

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	result, err := r.Execute(ctx, "test.ok", map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "v", p.seenCtx.Value(key{}))

	result, err = r.Execute(ctx, "test.fail", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)

	_, err = r.Execute(ctx, "test.error", nil, nil)
	assert.EqualError(t, err, "boom")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ServiceCalls.WithLabelValues("test", "test.ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ServiceCalls.WithLabelValues("test", "test.fail", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ServiceCalls.WithLabelValues("test", "test.error", "error")))
}

func TestExecuteRejectsBadToolIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "test"}))

	_, err := r.Execute(context.Background(), "noservice", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidToolID)

	_, err = r.Execute(context.Background(), ".tool", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidToolID)

	_, err = r.Execute(context.Background(), "missing.tool", nil, nil)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	_, err = r.Execute(context.Background(), "test.undeclared", nil, nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "test1"}))
	require.NoError(t, r.Register(&mockProvider{id: "test2", category: types.CategorySystem}))

	stats := r.Stats()
	assert.Equal(t, 2, stats["total_services"])
	assert.Equal(t, 6, stats["total_tools"])
	assert.Equal(t, map[string]int{"process": 1, "system": 1}, stats["categories"])
}
