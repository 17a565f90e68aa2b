package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
)

var (
	// ErrInvalidToolID is returned for tool ids not of the form "service.tool".
	ErrInvalidToolID = errors.New("invalid tool ID format")
	// ErrServiceNotFound is returned when no provider owns the tool's service.
	ErrServiceNotFound = errors.New("service not found")
	// ErrToolNotFound is returned when the service does not declare the tool.
	ErrToolNotFound = errors.New("tool not found")
)

// Provider is a service whose tools can be executed through the registry.
type Provider interface {
	Definition() types.Service
	Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error)
}

type entry struct {
	provider Provider
	def      types.Service
	tools    map[string]struct{}
}

// Registry routes tool calls to providers. Definitions are captured when a
// provider registers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = logging.OrNop(log) }
}

// WithMetrics records one service call per Execute.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]*entry), log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the provider for its service id.
func (r *Registry) Register(provider Provider) error {
	def := provider.Definition()
	if def.ID == "" {
		return fmt.Errorf("service ID cannot be empty")
	}
	e := &entry{
		provider: provider,
		def:      def,
		tools:    lo.SliceToMap(def.Tools, func(t types.Tool) (string, struct{}) { return t.ID, struct{}{} }),
	}

	r.mu.Lock()
	r.entries[def.ID] = e
	r.mu.Unlock()

	r.log.Info("service registered", zap.String("service", def.ID), zap.Int("tools", len(def.Tools)))
	return nil
}

// Unregister removes a service.
func (r *Registry) Unregister(serviceID string) {
	r.mu.Lock()
	delete(r.entries, serviceID)
	r.mu.Unlock()
}

// Get returns the provider registered for serviceID.
func (r *Registry) Get(serviceID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serviceID]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

func (r *Registry) definitions() []types.Service {
	r.mu.RLock()
	defs := make([]types.Service, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// List returns services ordered by id, optionally restricted to a category.
func (r *Registry) List(category *types.Category) []types.Service {
	defs := r.definitions()
	if category == nil {
		return defs
	}
	return lo.Filter(defs, func(def types.Service, _ int) bool { return def.Category == *category })
}

// Discover ranks services against a free-text query and returns at most
// limit matches. Services sharing no words with the query are omitted.
func (r *Registry) Discover(query string, limit int) []types.Service {
	words := wordSet(query)

	type ranked struct {
		def   types.Service
		score int
	}
	var hits []ranked
	for _, def := range r.definitions() {
		if score := relevance(words, def); score > 0 {
			hits = append(hits, ranked{def, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return lo.Map(hits, func(h ranked, _ int) types.Service { return h.def })
}

// Execute runs a tool. Tool ids have the form "<service>.<tool>" and must be
// declared by the service's definition.
func (r *Registry) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	serviceID, _, ok := strings.Cut(toolID, ".")
	if !ok || serviceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToolID, toolID)
	}

	r.mu.RLock()
	e, ok := r.entries[serviceID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}
	if _, declared := e.tools[toolID]; !declared {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}

	timer := monitoring.NewTimer(r.metrics, serviceID, toolID)
	result, err := e.provider.Execute(ctx, toolID, params, appCtx)
	status := "success"
	if err != nil {
		status = "error"
		r.log.Debug("tool failed", zap.String("tool", toolID), zap.Error(err))
	} else if result != nil && !result.Success {
		status = "failure"
	}
	timer.Stop(status)
	return result, err
}

// Stats summarizes registered services by category.
func (r *Registry) Stats() map[string]interface{} {
	defs := r.definitions()
	categories := lo.CountValuesBy(defs, func(def types.Service) string { return string(def.Category) })
	tools := lo.SumBy(defs, func(def types.Service) int { return len(def.Tools) })

	return map[string]interface{}{
		"total_services": len(defs),
		"total_tools":    tools,
		"categories":     categories,
	}
}

func wordSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return lo.SliceToMap(fields, func(w string) (string, struct{}) { return w, struct{}{} })
}

// relevance weighs a name hit over description words, capabilities whose
// every word appears, and the category.
func relevance(query map[string]struct{}, def types.Service) int {
	has := func(w string) bool { _, ok := query[w]; return ok }
	score := 0

	if has(def.ID) || has(strings.ToLower(def.Name)) {
		score += 10
	}
	for w := range wordSet(def.Description) {
		if len(w) > 2 && has(w) {
			score += 5
		}
	}
	for _, capability := range def.Capabilities {
		parts := wordSet(strings.ReplaceAll(capability, "_", " "))
		if len(parts) > 0 && lo.EveryBy(lo.Keys(parts), has) {
			score += 3
		}
	}
	if has(string(def.Category)) {
		score += 2
	}
	return score
}
