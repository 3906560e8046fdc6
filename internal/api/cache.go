package api

import (
	"context"
	"sync"

	"amicare/internal/apperr"
	"amicare/internal/session"
)

// SessionLister is the fetch side of the cache.
type SessionLister interface {
	EnrichedSessions(ctx context.Context, userID string, isPsw bool) ([]*session.Enriched, error)
}

type cacheKey struct {
	userID string
	isPsw  bool
}

type cacheEntry struct {
	sessions []*session.Enriched
	stale    bool
}

// SessionCache keeps the last fetched session list per user and refetches
// after Invalidate.
type SessionCache struct {
	src SessionLister

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

// NewSessionCache creates an empty cache over src.
func NewSessionCache(src SessionLister) *SessionCache {
	return &SessionCache{
		src:     src,
		entries: make(map[cacheKey]*cacheEntry),
	}
}

// List returns the cached list, fetching it when missing or stale.
func (c *SessionCache) List(ctx context.Context, userID string, isPsw bool) ([]*session.Enriched, error) {
	key := cacheKey{userID: userID, isPsw: isPsw}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.stale {
		sessions := e.sessions
		c.mu.Unlock()
		return sessions, nil
	}
	c.mu.Unlock()

	sessions, err := c.src.EnrichedSessions(ctx, userID, isPsw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{sessions: sessions}
	c.mu.Unlock()

	return sessions, nil
}

// Find returns one session from the user's list.
func (c *SessionCache) Find(ctx context.Context, userID string, isPsw bool, sessionID string) (*session.Enriched, error) {
	sessions, err := c.List(ctx, userID, isPsw)
	if err != nil {
		return nil, err
	}

	for _, s := range sessions {
		if s.ID == sessionID {
			return s, nil
		}
	}

	return nil, apperr.New(apperr.CodeNotFound, "session not found").WithDetail("session_id", sessionID)
}

// Invalidate marks every cached list stale so the next read refetches.
func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.stale = true
	}
}
