package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/echomind/domain/repositories"
)

// Route binds a model-name prefix to the backend serving it
type Route struct {
	Prefix  string
	Backend repositories.LargeLanguageModel
}

// Router dispatches completions to a backend chosen from the request's model
// name. Routes are matched in order; the first matching prefix wins.
type Router struct {
	routes []Route
	logger *zap.Logger
}

// NewRouter creates a model-name router. Routes with a nil backend are skipped
// so unconfigured providers simply never match.
func NewRouter(logger *zap.Logger, routes ...Route) *Router {
	r := &Router{logger: logger}
	for _, route := range routes {
		if route.Backend == nil {
			continue
		}
		route.Prefix = strings.ToLower(route.Prefix)
		r.routes = append(r.routes, route)
	}
	return r
}

// Complete implements repositories.LargeLanguageModel
func (r *Router) Complete(ctx context.Context, req repositories.CompletionRequest) (string, error) {
	backend, err := r.resolve(req.Model)
	if err != nil {
		return "", err
	}
	return backend.Complete(ctx, req)
}

// Backends reports how many routes are live
func (r *Router) Backends() int {
	return len(r.routes)
}

func (r *Router) resolve(model string) (repositories.LargeLanguageModel, error) {
	name := strings.ToLower(model)
	for _, route := range r.routes {
		if strings.HasPrefix(name, route.Prefix) {
			return route.Backend, nil
		}
	}
	r.logger.Warn("No LLM backend for model", zap.String("model", model))
	return nil, fmt.Errorf("no suitable LLM client for model %s", model)
}
