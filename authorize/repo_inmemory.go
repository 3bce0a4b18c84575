package authorize

import (
	"errors"
	"fmt"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

var ErrFlowNotFound = errors.New("authorization flow not found")

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu    sync.RWMutex
	flows map[string]*Flow
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		flows: make(map[string]*Flow),
	}
}

func (r *InMemoryRepo) Upsert(state string, flow *Flow) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to prevent external modifications
	f := *flow
	r.flows[state] = &f
	return nil
}

func (r *InMemoryRepo) Get(state string) (*Flow, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, exists := r.flows[state]
	if !exists {
		return nil, ErrFlowNotFound
	}
	f := *flow
	return &f, nil
}

func (r *InMemoryRepo) Bind(state, code string) (*Flow, error) {
	if state == "" || code == "" {
		return nil, errors.New("state and code cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	flow, exists := r.flows[state]
	if !exists {
		return nil, ErrFlowNotFound
	}
	if flow.Code != "" && flow.Code != code {
		return nil, fmt.Errorf("[InMemoryRepo Bind] %w: state already used with another code", autherrors.ErrInvalidState)
	}
	flow.Code = code
	f := *flow
	return &f, nil
}

func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.flows, state)
	return nil
}

func (r *InMemoryRepo) DeleteCreatedBefore(t time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for state, flow := range r.flows {
		if flow.CreatedAt.Before(t) {
			delete(r.flows, state)
			n++
		}
	}
	return n
}
