package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/fastygo/opendatahub/domain"
)

// JobHandler runs one named unit of background work, such as the import of a feed.
type JobHandler func(ctx context.Context, payload interface{}) (interface{}, error)

// Dispatcher routes job names to handlers. Both the scheduler and the HTTP trigger
// go through it, so a feed runs the same way regardless of who started it.
type Dispatcher struct {
	handlers map[string]JobHandler
	mu       sync.RWMutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]JobHandler),
	}
}

func (d *Dispatcher) Register(name string, handler JobHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handler
}

// Has reports whether name is registered.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Names lists the registered jobs in order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) Execute(ctx context.Context, name string, payload interface{}) (interface{}, error) {
	d.mu.RLock()
	handler, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.ErrCodeNotFound, "job "+name+" not registered")
	}
	return handler(ctx, payload)
}
