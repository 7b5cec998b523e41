// Package middleware implements the ordered interceptor chain that runs
// between route matching and the handler. Middleware is registered once by
// name; routes reference names and the registry resolves them into an
// immutable Chain at registration time, so an unknown name is a configuration
// fault raised before the route ever serves a call.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxgate/fluxgate/reqctx"
)

var (
	// ErrUnknownMiddleware indicates a route referenced a name with no
	// registered implementation. Fatal at route-registration time.
	ErrUnknownMiddleware = errors.New("middleware: unknown middleware name")

	// ErrNextCalledTwice indicates a middleware resumed its continuation more
	// than once. Downstream steps run at most once per call; a second
	// invocation is a programming error and fails the call immediately.
	ErrNextCalledTwice = errors.New("middleware: next called twice")
)

// Next advances the chain to the following step. Each middleware must call it
// at most once; not calling it short-circuits the remainder of the chain.
type Next func() error

// Func is a single interceptor. It may mutate call.Resp to produce a
// short-circuit outcome but must never replace the call context itself.
type Func func(ctx context.Context, call *reqctx.Context, next Next) error

// Registry maps middleware names to implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Register adds a named middleware. Registering a duplicate name is an error;
// chains resolved earlier keep the function they resolved.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("middleware: register requires a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("middleware: %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Names returns the registered middleware names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns an ordered name list into an executable Chain. Every name is
// looked up exactly once, here; a miss wraps ErrUnknownMiddleware.
func (r *Registry) Resolve(names []string) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	funcs := make([]Func, 0, len(names))
	for _, name := range names {
		fn, ok := r.funcs[name]
		if !ok {
			return Chain{}, fmt.Errorf("%w: %q", ErrUnknownMiddleware, name)
		}
		funcs = append(funcs, fn)
	}
	return Chain{names: append([]string(nil), names...), funcs: funcs}, nil
}

// Chain is a resolved, immutable middleware sequence.
type Chain struct {
	names []string
	funcs []Func
}

// Len returns the chain length.
func (c Chain) Len() int { return len(c.funcs) }

// Run executes the chain against one call. It reports completed=true when
// every step advanced, i.e. the number of next invocations equals the chain
// length; an empty chain completes immediately. completed=false with a nil
// error is a deliberate short-circuit and the interrupting middleware's
// response stands. Any error aborts the call.
func (c Chain) Run(ctx context.Context, call *reqctx.Context) (completed bool, err error) {
	advanced := 0

	var step func(i int) error
	step = func(i int) error {
		if i == len(c.funcs) {
			return nil
		}
		resumed := false
		next := func() error {
			if resumed {
				return fmt.Errorf("%w: %q", ErrNextCalledTwice, c.names[i])
			}
			resumed = true
			advanced++
			return step(i + 1)
		}
		return c.funcs[i](ctx, call, next)
	}

	if err := step(0); err != nil {
		return false, err
	}
	return advanced == len(c.funcs), nil
}
