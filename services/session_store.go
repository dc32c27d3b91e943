package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"docintel-backend/internal/logger"
	"docintel-backend/models"
)

// SessionState is a point-in-time snapshot of one pipeline run
type SessionState struct {
	DocumentID  string    `json:"document_id"`
	Status      string    `json:"status"`
	ChunksTotal int       `json:"chunks_total"`
	ChunksDone  int       `json:"chunks_done"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type session struct {
	state     SessionState
	cancel    context.CancelFunc
	expiresAt time.Time
}

// SessionStore tracks in-flight and recently finished pipeline runs keyed by
// document ID. Entries expire after the TTL; a scheduled janitor evicts them.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	ttl       time.Duration
	scheduler *gocron.Scheduler
}

// NewSessionStore creates a store whose entries live for ttl after their
// last update
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
	}
}

// StartJanitor schedules periodic eviction of expired sessions
func (s *SessionStore) StartJanitor(interval time.Duration) error {
	sched := gocron.NewScheduler(time.UTC)
	if _, err := sched.Every(interval).Do(s.evictExpired); err != nil {
		return err
	}
	sched.StartAsync()
	s.scheduler = sched
	return nil
}

// StopJanitor stops the eviction schedule
func (s *SessionStore) StopJanitor() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Begin registers a run and its cancel function
func (s *SessionStore) Begin(documentID string, chunksTotal int, cancel context.CancelFunc) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[documentID] = &session{
		state: SessionState{
			DocumentID:  documentID,
			Status:      models.StatusProcessing,
			ChunksTotal: chunksTotal,
			StartedAt:   now,
			UpdatedAt:   now,
		},
		cancel:    cancel,
		expiresAt: now.Add(s.ttl),
	}
}

// Progress bumps the completed chunk counter
func (s *SessionStore) Progress(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[documentID]; ok {
		sess.state.ChunksDone++
		sess.state.UpdatedAt = time.Now()
		sess.expiresAt = sess.state.UpdatedAt.Add(s.ttl)
	}
}

// SetStatus records a terminal or intermediate status for the run
func (s *SessionStore) SetStatus(documentID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[documentID]; ok {
		sess.state.Status = status
		sess.state.UpdatedAt = time.Now()
		sess.expiresAt = sess.state.UpdatedAt.Add(s.ttl)
	}
}

// Get returns a snapshot of the run state
func (s *SessionStore) Get(documentID string) (SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[documentID]
	if !ok {
		return SessionState{}, ErrSessionNotFound
	}
	return sess.state, nil
}

// Cancel fires the run's context cancellation and marks it cancelled
func (s *SessionStore) Cancel(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[documentID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.state.Status = models.StatusCancelled
	sess.state.UpdatedAt = time.Now()
	return nil
}

// Remove drops a session immediately
func (s *SessionStore) Remove(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, documentID)
}

func (s *SessionStore) evictExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
			logger.Debug("evicted expired session", "document_id", id)
		}
	}
}
