package smartimport

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ControllerFactory builds the controller of a new session.
type ControllerFactory func() *JobController

type session struct {
	ctrl     *JobController
	lastSeen time.Time
}

// Registry keeps the live sessions of a process and evicts idle ones.
type Registry struct {
	factory ControllerFactory
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewRegistry(factory ControllerFactory, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory:  factory,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: map[uuid.UUID]*session{},
		stopChan: make(chan struct{}),
	}
}

// Create opens a new session.
func (r *Registry) Create() (uuid.UUID, *JobController) {
	id := uuid.New()
	ctrl := r.factory()

	r.mu.Lock()
	r.sessions[id] = &session{ctrl: ctrl, lastSeen: r.now()}
	r.mu.Unlock()

	r.logger.Debug("session created", zap.String("session_id", id.String()))
	return id, ctrl
}

// Get returns a session and marks it as used.
func (r *Registry) Get(id uuid.UUID) (*JobController, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = r.now()
	return s.ctrl, nil
}

// Delete closes and forgets a session.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.ctrl.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict closes sessions idle for longer than the TTL and returns how many it closed.
func (r *Registry) Evict() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	var expired []*JobController
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			expired = append(expired, s.ctrl)
			delete(r.sessions, id)
			r.logger.Info("session expired", zap.String("session_id", id.String()))
		}
	}
	r.mu.Unlock()

	for _, c := range expired {
		c.Close()
	}
	return len(expired)
}

// Start runs the eviction loop until Stop is called.
func (r *Registry) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Evict()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop ends the eviction loop and closes every session.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()

		r.mu.Lock()
		all := make([]*JobController, 0, len(r.sessions))
		for id, s := range r.sessions {
			all = append(all, s.ctrl)
			delete(r.sessions, id)
		}
		r.mu.Unlock()

		for _, c := range all {
			c.Close()
		}
		r.logger.Info("session registry stopped", zap.Int("closed", len(all)))
	})
}
