package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "odyssey:session:"
	// userField stores the user id inside the session hash. Value keys never
	// start with an underscore.
	userField = "_uid"
)

// SessionManager orchestrates cookie based sessions stored as Redis hashes.
// The cookie carries the session id and an HMAC of it, so ids that were not
// issued by this server are never looked up.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session holds per-request session data.
type Session struct {
	ID        string
	values    map[string]string
	userID    string
	previous  string
	manager   *SessionManager
	isNew     bool
	dirty     bool
	destroyed bool
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load returns the session named by the request cookie. A missing, forged or
// expired cookie yields a fresh anonymous session with a server-chosen id.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}
	id, ok := sm.verifyCookie(cookie.Value)
	if !ok {
		return sm.newSession(), nil
	}

	fields, err := sm.client.HGetAll(ctx, sm.redisKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return sm.newSession(), nil
	}

	sess := &Session{ID: id, values: make(map[string]string, len(fields)), manager: sm}
	for k, v := range fields {
		if k == userField {
			sess.userID = v
			continue
		}
		sess.values[k] = v
	}
	return sess, nil
}

// Commit persists the session and writes cookie headers as needed. Unchanged
// sessions only get their expiry extended.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	key := sm.redisKey(sess.ID)
	_, err := sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if sess.previous != "" {
			pipe.Del(ctx, sm.redisKey(sess.previous))
		}
		if sess.dirty || sess.isNew {
			fields := make(map[string]any, len(sess.values)+1)
			for k, v := range sess.values {
				fields[k] = v
			}
			fields[userField] = sess.userID
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
		}
		pipe.Expire(ctx, key, sm.ttl)
		return nil
	})
	if err != nil {
		return err
	}
	sess.previous = ""
	sess.isNew = false
	sess.dirty = false

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sm.CookieValue(sess.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// CookieValue returns the signed cookie value for a session id.
func (sm *SessionManager) CookieValue(id string) string {
	return id + "." + sm.sign(id)
}

func (sm *SessionManager) verifyCookie(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(sm.sign(id))) {
		return "", false
	}
	return id, true
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.secret)
	_, _ = mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Set stores a key-value pair. Keys starting with an underscore are reserved.
func (s *Session) Set(key, value string) {
	if strings.HasPrefix(key, "_") {
		return
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with a user ID.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the current user ID.
func (s *Session) User() string {
	return s.userID
}

// Regenerate moves the session to a fresh ID and drops its CSRF token. The
// old record is deleted on the next Commit.
func (s *Session) Regenerate() {
	if s.manager == nil {
		return
	}
	if !s.isNew && s.previous == "" {
		s.previous = s.ID
	}
	s.ID = s.manager.generateSessionID()
	delete(s.values, CSRFSessionKey)
	s.isNew = true
	s.dirty = true
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:      sm.generateSessionID(),
		values:  make(map[string]string),
		manager: sm,
		isNew:   true,
		dirty:   true,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return sessionKeyPrefix + id
}

func (sm *SessionManager) generateSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
