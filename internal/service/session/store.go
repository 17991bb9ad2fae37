// Package session persists conversation state. Every mutation performs a dual
// write: the full session is serialized to the durable store under
// "session:<id>" with its TTL reset to the session timeout, and mirrored into
// a local cache. Reads prefer the durable store and degrade to the cache, so
// a Redis outage never takes the conversation path down.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/practiva/assistant-backend/internal/model/chat"
	"github.com/practiva/assistant-backend/internal/storage"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPersonaRequired = errors.New("persona is required")
)

const keyPrefix = "session:"

// Store manages session lifecycle across the durable backend and the local
// fallback cache. Mutations are read-modify-write on the full session object;
// concurrent writers to one id are last-writer-wins.
type Store struct {
	kv            storage.KV // nil when the durable store is unavailable
	timeout       time.Duration
	sweepInterval time.Duration

	mu    sync.RWMutex
	local map[string]*chat.Session

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore builds a session store. kv may be nil; the store then runs
// cache-only. Start launches the cache sweeper.
func NewStore(kv storage.KV, timeout, sweepInterval time.Duration) *Store {
	return &Store{
		kv:            kv,
		timeout:       timeout,
		sweepInterval: sweepInterval,
		local:         make(map[string]*chat.Session),
		done:          make(chan struct{}),
	}
}

// Start launches the background sweep of the local cache. The durable store
// expires its own keys via TTL; the sweeper bounds cache growth when Redis is
// absent.
func (s *Store) Start() {
	go s.sweepLoop()
}

// Close stops the sweeper. It does not close the underlying KV.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Create provisions a session. When id is empty a new one is generated;
// passing an id supports recreating a session a client still references after
// expiry.
func (s *Store) Create(ctx context.Context, personaID string, contextMap map[string]any, authToken, profileID, id string) (string, error) {
	if personaID == "" {
		return "", ErrPersonaRequired
	}
	if id == "" {
		id = uuid.NewString()
	}
	if contextMap == nil {
		contextMap = make(map[string]any)
	}

	now := time.Now().UTC()
	sess := &chat.Session{
		ID:           id,
		Persona:      personaID,
		Messages:     make([]chat.Message, 0, 16),
		CreatedAt:    now,
		LastActivity: now,
		Context:      contextMap,
		AuthToken:    authToken,
		ProfileID:    profileID,
	}

	s.save(ctx, sess)
	return id, nil
}

// Get retrieves a session by id, preferring the durable store.
func (s *Store) Get(ctx context.Context, id string) (*chat.Session, error) {
	if s.kv != nil {
		data, err := s.kv.Get(ctx, keyPrefix+id)
		if err == nil {
			var sess chat.Session
			if unmarshalErr := json.Unmarshal([]byte(data), &sess); unmarshalErr == nil {
				return &sess, nil
			} else {
				log.Printf("[session] corrupt session payload for %s: %v", id, unmarshalErr)
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[session] durable read failed for %s: %v", id, err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.local[id]; ok {
		return sess.Clone(), nil
	}
	return nil, ErrSessionNotFound
}

// AddMessage appends a message to the session transcript and returns it.
func (s *Store) AddMessage(ctx context.Context, id string, role chat.Role, content string) (*chat.Message, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	sess.Messages = append(sess.Messages, msg)
	sess.LastActivity = msg.Timestamp
	s.save(ctx, sess)

	return &msg, nil
}

// Messages returns the session transcript, the most recent limit entries when
// limit is positive.
func (s *Store) Messages(ctx context.Context, id string, limit int) ([]chat.Message, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...), nil
}

// UpdateContext merges patch into the session context map.
func (s *Store) UpdateContext(ctx context.Context, id string, patch map[string]any) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	for k, v := range patch {
		sess.Context[k] = v
	}
	sess.LastActivity = time.Now().UTC()
	s.save(ctx, sess)
	return nil
}

// UpdateActivity refreshes last_activity, holding the session clear of the
// expiry horizon.
func (s *Store) UpdateActivity(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	sess.LastActivity = time.Now().UTC()
	s.save(ctx, sess)
	return nil
}

// UpdateAuthToken stores a fresh credential on the session.
func (s *Store) UpdateAuthToken(ctx context.Context, id, token string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	sess.AuthToken = token
	sess.LastActivity = time.Now().UTC()
	s.save(ctx, sess)
	return nil
}

// Delete removes the session from both backends.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.kv != nil {
		if err := s.kv.Del(ctx, keyPrefix+id); err != nil {
			log.Printf("[session] durable delete failed for %s: %v", id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.local[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.local, id)
	return nil
}

// CountActive reports the number of live sessions: durable-store keys when
// reachable, local cache size otherwise.
func (s *Store) CountActive(ctx context.Context) int {
	if s.kv != nil {
		keys, err := s.kv.Keys(ctx, keyPrefix+"*")
		if err == nil {
			return len(keys)
		}
		log.Printf("[session] durable key scan failed: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.local)
}

// save performs the dual write. Durable-store errors are logged, never
// surfaced: the local cache keeps the session available.
func (s *Store) save(ctx context.Context, sess *chat.Session) {
	if s.kv != nil {
		data, err := json.Marshal(sess)
		if err != nil {
			log.Printf("[session] marshal failed for %s: %v", sess.ID, err)
		} else if err := s.kv.SetEx(ctx, keyPrefix+sess.ID, string(data), s.timeout); err != nil {
			log.Printf("[session] durable write failed for %s: %v", sess.ID, err)
		}
	}

	s.mu.Lock()
	s.local[sess.ID] = sess.Clone()
	s.mu.Unlock()
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired drops local entries whose last activity is older than the
// session timeout.
func (s *Store) sweepExpired() {
	cutoff := time.Now().UTC().Add(-s.timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.local {
		if sess.LastActivity.Before(cutoff) {
			delete(s.local, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[session] swept %d expired sessions", removed)
	}
}
