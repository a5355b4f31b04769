// internal/session/store.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bma-social-bot/internal/common/config"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/models"
)

const (
	redisKeyPrefix = "session:"
	trustKeyPrefix = "trust:"
)

// trustRecord is the durable part of a passed verification. It outlives the
// session that earned it: sessions expire on the inactivity TTL, trust on
// the much longer trust window.
type trustRecord struct {
	Venue string    `json:"venue"`
	Until time.Time `json:"until"`
}

// Store keeps caller sessions in memory as the authoritative copy and
// writes every change through to Redis so sessions survive a restart.
// All access to a caller's session goes through that caller's key lock,
// including the sweeper's.
type Store struct {
	cfg    config.SessionConfig
	redis  *redis.Client
	logger logger.Logger

	mu       sync.Mutex
	sessions map[string]*models.CallerSession
	locks    map[string]*sync.Mutex
	trust    map[string]trustRecord

	stopSweep chan struct{}
	sweepDone chan struct{}
}

func NewStore(cfg config.SessionConfig, rdb *redis.Client, log logger.Logger) *Store {
	return &Store{
		cfg:       cfg,
		redis:     rdb,
		logger:    log.With(map[string]interface{}{"component": "session_store"}),
		sessions:  make(map[string]*models.CallerSession),
		locks:     make(map[string]*sync.Mutex),
		trust:     make(map[string]trustRecord),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Get returns a copy of the caller's session, hydrating from Redis on a
// memory miss. Returns nil when no session exists.
func (s *Store) Get(ctx context.Context, callerID string) (*models.CallerSession, error) {
	lock := s.lockCaller(callerID)
	defer lock.Unlock()

	sess := s.load(ctx, callerID)
	if sess == nil {
		return nil, nil
	}
	cp := *sess
	cp.History = append([]models.Message(nil), sess.History...)
	return &cp, nil
}

// Mutate applies fn to the caller's session under the per-caller lock,
// creating the session first if none exists. Two concurrent messages from
// the same caller are applied one at a time; different callers proceed in
// parallel. The updated session is persisted to Redis before returning.
func (s *Store) Mutate(ctx context.Context, callerID, channel string, fn func(*models.CallerSession)) (*models.CallerSession, error) {
	lock := s.lockCaller(callerID)
	defer lock.Unlock()

	sess := s.load(ctx, callerID)
	now := time.Now().UTC()
	if sess == nil || sess.Status != models.SessionActive {
		sess = s.newSession(ctx, callerID, channel, sess, now)
	}

	fn(sess)
	sess.LastActivity = now

	s.mu.Lock()
	s.sessions[callerID] = sess
	s.mu.Unlock()

	if err := s.persist(ctx, sess); err != nil {
		// Memory stays authoritative; a Redis outage costs restart
		// durability, not correctness.
		s.logger.WithError(err).Warn("session write-through failed", map[string]interface{}{
			"caller_id": callerID,
		})
	}

	cp := *sess
	cp.History = append([]models.Message(nil), sess.History...)
	return &cp, nil
}

// RecordTurn appends a caller message and the bot reply to the bounded
// history.
func (s *Store) RecordTurn(ctx context.Context, callerID, channel, callerText, botText string) (*models.CallerSession, error) {
	return s.Mutate(ctx, callerID, channel, func(sess *models.CallerSession) {
		now := time.Now().UTC()
		sess.History = append(sess.History,
			models.Message{Role: "caller", Text: callerText, Timestamp: now},
			models.Message{Role: "bot", Text: botText, Timestamp: now},
		)
		if over := len(sess.History) - s.cfg.HistoryWindow; over > 0 {
			sess.History = append([]models.Message(nil), sess.History[over:]...)
		}
	})
}

// SetResolved binds the session to a venue and optionally a zone, clearing
// any pending question.
func (s *Store) SetResolved(ctx context.Context, callerID, channel, venue, zone string) (*models.CallerSession, error) {
	return s.Mutate(ctx, callerID, channel, func(sess *models.CallerSession) {
		sess.VenueName = venue
		if zone != "" {
			sess.ZoneName = zone
		}
		sess.Pending = models.PendingState{}
	})
}

// MarkTrusted records a passed verification, opening the trust window for
// the venue. Trust is stored on its own key so it survives session expiry
// and sweeps for the full window.
func (s *Store) MarkTrusted(ctx context.Context, callerID, channel, venue string) (*models.CallerSession, error) {
	until := time.Now().UTC().AddDate(0, 0, s.cfg.TrustWindow)
	sess, err := s.Mutate(ctx, callerID, channel, func(sess *models.CallerSession) {
		sess.TrustedVenue = venue
		sess.TrustedUntil = until
		sess.FailedAttempts = 0
	})
	if err != nil {
		return nil, err
	}
	s.saveTrust(ctx, callerID, venue, until)
	return sess, nil
}

// EndSession closes a session explicitly (conversation finished or handed
// off). The closed session stays readable until the sweeper removes it.
func (s *Store) EndSession(ctx context.Context, callerID string) error {
	lock := s.lockCaller(callerID)
	defer lock.Unlock()

	sess := s.load(ctx, callerID)
	if sess == nil {
		return nil
	}
	sess.Status = models.SessionClosed
	sess.LastActivity = time.Now().UTC()
	return s.persist(ctx, sess)
}

// SweepExpired expires sessions idle past the inactivity TTL and drops
// closed or expired ones from memory and Redis, together with their key
// locks. Each session is inspected under its own caller lock so a sweep
// never races a turn in flight. Trust records are kept until their window
// ends. Returns the number of sessions removed.
func (s *Store) SweepExpired(ctx context.Context) int {
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(s.cfg.InactivityTTL) * time.Minute)

	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	for id, tr := range s.trust {
		if !tr.Until.After(now) {
			delete(s.trust, id)
		}
	}
	s.mu.Unlock()

	var stale []string
	for _, id := range ids {
		lock := s.lockCaller(id)
		s.mu.Lock()
		sess, ok := s.sessions[id]
		drop := ok && (sess.Status != models.SessionActive || sess.LastActivity.Before(cutoff))
		if drop {
			delete(s.sessions, id)
			delete(s.locks, id)
			stale = append(stale, id)
		}
		s.mu.Unlock()
		lock.Unlock()
	}

	for _, id := range stale {
		if s.redis != nil {
			if err := s.redis.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
				s.logger.WithError(err).Warn("session delete failed", map[string]interface{}{
					"caller_id": id,
				})
			}
		}
	}
	if len(stale) > 0 {
		s.logger.Info("swept expired sessions", map[string]interface{}{
			"count": len(stale),
		})
	}
	return len(stale)
}

// StartSweeper runs SweepExpired on the configured interval until Close.
func (s *Store) StartSweeper(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepInterval) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepExpired(ctx)
			case <-s.stopSweep:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the sweeper. The Redis client is owned by the caller.
func (s *Store) Close() {
	close(s.stopSweep)
	<-s.sweepDone
}

// --- internals ---

// lockCaller acquires the caller's key lock. The sweeper prunes lock
// entries when it drops a session, so after acquiring we confirm the lock
// is still the registered one and retry with a fresh entry if not.
func (s *Store) lockCaller(callerID string) *sync.Mutex {
	for {
		s.mu.Lock()
		lock, ok := s.locks[callerID]
		if !ok {
			lock = &sync.Mutex{}
			s.locks[callerID] = lock
		}
		s.mu.Unlock()

		lock.Lock()
		s.mu.Lock()
		current := s.locks[callerID]
		s.mu.Unlock()
		if current == lock {
			return lock
		}
		lock.Unlock()
	}
}

// newSession builds a fresh active session, carrying trust memory over from
// a prior closed or expired session for the same caller, or from the
// standalone trust record when the prior session is already gone.
func (s *Store) newSession(ctx context.Context, callerID, channel string, prior *models.CallerSession, now time.Time) *models.CallerSession {
	sess := &models.CallerSession{
		CallerID:     callerID,
		Channel:      channel,
		Status:       models.SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	if prior != nil {
		sess.DisplayName = prior.DisplayName
		sess.TrustedVenue = prior.TrustedVenue
		sess.TrustedUntil = prior.TrustedUntil
	}
	if sess.TrustedVenue == "" {
		if venue, until, ok := s.loadTrust(ctx, callerID, now); ok {
			sess.TrustedVenue = venue
			sess.TrustedUntil = until
		}
	}
	return sess
}

// load returns the live in-memory session, falling back to Redis. Idle-past-
// TTL sessions are treated as expired on read.
func (s *Store) load(ctx context.Context, callerID string) *models.CallerSession {
	s.mu.Lock()
	sess, ok := s.sessions[callerID]
	s.mu.Unlock()

	if !ok && s.redis != nil {
		raw, err := s.redis.Get(ctx, redisKeyPrefix+callerID).Bytes()
		if err == nil {
			var hydrated models.CallerSession
			if jerr := json.Unmarshal(raw, &hydrated); jerr == nil {
				sess = &hydrated
				s.mu.Lock()
				s.sessions[callerID] = sess
				s.mu.Unlock()
			} else {
				s.logger.WithError(jerr).Warn("discarding undecodable session", map[string]interface{}{
					"caller_id": callerID,
				})
			}
		} else if err != redis.Nil {
			s.logger.WithError(err).Warn("session hydrate failed", map[string]interface{}{
				"caller_id": callerID,
			})
		}
	}

	if sess == nil {
		return nil
	}
	ttl := time.Duration(s.cfg.InactivityTTL) * time.Minute
	if sess.Status == models.SessionActive && time.Since(sess.LastActivity) > ttl {
		sess.Status = models.SessionExpired
	}
	return sess
}

func (s *Store) persist(ctx context.Context, sess *models.CallerSession) error {
	if s.redis == nil {
		return nil
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Duration(s.cfg.InactivityTTL) * time.Minute
	if err := s.redis.Set(ctx, redisKeyPrefix+sess.CallerID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// saveTrust records the trust grant in memory and writes it through to its
// own Redis key with the trust-window TTL.
func (s *Store) saveTrust(ctx context.Context, callerID, venue string, until time.Time) {
	rec := trustRecord{Venue: venue, Until: until}

	s.mu.Lock()
	s.trust[callerID] = rec
	s.mu.Unlock()

	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, trustKeyPrefix+callerID, raw, time.Until(until)).Err(); err != nil {
		s.logger.WithError(err).Warn("trust write-through failed", map[string]interface{}{
			"caller_id": callerID,
		})
	}
}

// loadTrust looks up a still-valid trust grant, falling back to Redis.
func (s *Store) loadTrust(ctx context.Context, callerID string, now time.Time) (string, time.Time, bool) {
	s.mu.Lock()
	rec, ok := s.trust[callerID]
	s.mu.Unlock()

	if ok {
		if rec.Until.After(now) {
			return rec.Venue, rec.Until, true
		}
		return "", time.Time{}, false
	}

	if s.redis == nil {
		return "", time.Time{}, false
	}
	raw, err := s.redis.Get(ctx, trustKeyPrefix+callerID).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).Warn("trust hydrate failed", map[string]interface{}{
				"caller_id": callerID,
			})
		}
		return "", time.Time{}, false
	}
	if jerr := json.Unmarshal(raw, &rec); jerr != nil || !rec.Until.After(now) {
		return "", time.Time{}, false
	}
	s.mu.Lock()
	s.trust[callerID] = rec
	s.mu.Unlock()
	return rec.Venue, rec.Until, true
}
