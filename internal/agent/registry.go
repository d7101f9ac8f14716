package agent

import (
	"errors"
	"strings"
	"sync"
)

// Registry hands out invokers per webhook endpoint. Bots without an endpoint
// of their own fall back to the deployment default.
type Registry struct {
	mu         sync.RWMutex
	defaultURL string
	clients    map[string]Invoker
}

func NewRegistry(defaultURL string) *Registry {
	return &Registry{
		defaultURL: strings.TrimSpace(defaultURL),
		clients:    make(map[string]Invoker),
	}
}

// Register pins an invoker for a URL; used by tests and by deployments that
// wrap endpoints with custom transport.
func (r *Registry) Register(url string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[url] = inv
}

func (r *Registry) For(url string) (Invoker, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = r.defaultURL
	}
	if url == "" {
		return nil, errors.New("agent: no webhook url configured")
	}

	r.mu.RLock()
	inv, ok := r.clients[url]
	r.mu.RUnlock()
	if ok {
		return inv, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.clients[url]; ok {
		return inv, nil
	}
	c := NewClient(url)
	r.clients[url] = c
	return c, nil
}
