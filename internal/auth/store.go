package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

var ErrNotAuthenticated = errors.New("not authenticated")

const authenticatedKey = "auth.isAuthenticated"

// profile rows are created by a trigger after the account row, so the
// first fetch after sign-up may legitimately miss.
const (
	profileRetryAttempts = 5
	profileRetryBaseWait = 200 * time.Millisecond
)

// Store is the auth state container: the single source of truth for
// whether a request may hit authenticated endpoints.
type Store struct {
	mu      sync.RWMutex
	client  *api.Client
	storage *storage.Store
	log     *zap.Logger

	status      Status
	user        *User
	session     *api.Session
	profile     *Profile
	lastErr     string
	initialized bool
	unlisten    func()
}

func NewStore(client *api.Client, st *storage.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client:  client,
		storage: st,
		log:     log,
		status:  StatusLoading,
	}
}

type credentialsResponse struct {
	User    User        `json:"user"`
	Session api.Session `json:"session"`
}

// Initialize recovers an existing session, loads the profile and keeps
// the container in sync with externally-driven session changes (token
// rotation, OAuth redirect completion). Safe to call more than once;
// only the first call does work.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	s.unlisten = s.client.OnSessionChange(s.sessionChanged)

	sess := s.client.Session()
	if sess == nil {
		s.setAnonymous()
		return nil
	}

	user := userFromToken(sess)
	profile, err := s.fetchProfile(ctx)
	if err != nil {
		// session exists but the profile fetch failed; keep the session
		// and surface the error, the UI can retry
		s.mu.Lock()
		s.session = sess
		s.user = user
		s.status = StatusAuthenticated
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.persistAuthFlag(true)
		return err
	}

	s.mu.Lock()
	s.session = sess
	s.user = user
	s.profile = profile
	s.status = StatusAuthenticated
	s.lastErr = ""
	s.mu.Unlock()
	s.persistAuthFlag(true)
	return nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) error {
	var res credentialsResponse
	payload := map[string]string{"email": email, "password": password}
	if err := s.client.Post(ctx, "/auth/sign-in", payload, &res); err != nil {
		s.setErr(err)
		return err
	}

	s.client.SetSession(&res.Session)
	profile, err := s.fetchProfile(ctx)

	s.mu.Lock()
	s.session = &res.Session
	s.user = &res.User
	s.profile = profile
	s.status = StatusAuthenticated
	s.lastErr = ""
	s.mu.Unlock()
	s.persistAuthFlag(true)
	if err != nil {
		s.setErr(err)
	}
	return nil
}

func (s *Store) SignUp(ctx context.Context, email, password, fullName string) error {
	var res credentialsResponse
	payload := map[string]string{"email": email, "password": password, "fullName": fullName}
	if err := s.client.Post(ctx, "/auth/sign-up", payload, &res); err != nil {
		s.setErr(err)
		return err
	}

	s.client.SetSession(&res.Session)
	profile, err := s.fetchProfileWithRetry(ctx)
	if err != nil {
		s.log.Warn("profile not available after sign-up", zap.Error(err))
	}

	s.mu.Lock()
	s.session = &res.Session
	s.user = &res.User
	s.profile = profile
	s.status = StatusAuthenticated
	s.lastErr = ""
	s.mu.Unlock()
	s.persistAuthFlag(true)
	return nil
}

// SignOut tears down the session server-side first. A rejected call
// leaves credentials in place so the UI stays in sync with the server.
func (s *Store) SignOut(ctx context.Context) error {
	if !s.IsAuthenticated() {
		return nil
	}
	if err := s.client.Post(ctx, "/auth/sign-out", nil, nil); err != nil {
		s.setErr(err)
		return err
	}

	s.client.SetSession(nil)
	s.mu.Lock()
	s.user = nil
	s.session = nil
	s.profile = nil
	s.status = StatusAnonymous
	s.lastErr = ""
	s.mu.Unlock()
	s.persistAuthFlag(false)
	return nil
}

func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.client.Post(ctx, "/auth/reset-password", map[string]string{"email": email}, nil); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, newPassword string) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if err := s.client.Put(ctx, "/auth/password", map[string]string{"password": newPassword}, nil); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, p Profile) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	var updated Profile
	if err := s.client.Put(ctx, "/auth/profile", p, &updated); err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.profile = &updated
	s.mu.Unlock()
	return nil
}

// UploadAvatar pushes the image as a multipart form and adopts the
// profile the backend returns, which carries the new avatar URL.
func (s *Store) UploadAvatar(ctx context.Context, filename string, data []byte) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	var updated Profile
	if err := s.client.PostMultipart(ctx, "/auth/avatar", "avatar", filename, data, &updated); err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.profile = &updated
	s.mu.Unlock()
	return nil
}

// OAuthRedirectURL builds the provider redirect the UI navigates to.
// Session pickup happens through the session-change listener once the
// redirect completes.
func (s *Store) OAuthRedirectURL(base, provider, redirectTo string) string {
	return fmt.Sprintf("%s/auth/oauth/%s?redirectTo=%s", base, provider, redirectTo)
}

// IsAuthenticated is true iff both user and session are non-nil.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.session != nil
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Store) Profile() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

// UserID returns the current identity, or "" for guests.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// Role reports the profile role, falling back to the token claim when
// the profile has not loaded yet.
func (s *Store) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile != nil && s.profile.Role != "" {
		return s.profile.Role
	}
	if role := roleFromToken(s.session); role != "" {
		return role
	}
	return RoleUser
}

func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Reset returns every field to its initial value and removes the
// session-change listener.
func (s *Store) Reset() {
	s.mu.Lock()
	unlisten := s.unlisten
	s.unlisten = nil
	s.user = nil
	s.session = nil
	s.profile = nil
	s.status = StatusLoading
	s.lastErr = ""
	s.initialized = false
	s.mu.Unlock()
	if unlisten != nil {
		unlisten()
	}
}

func (s *Store) sessionChanged(sess *api.Session) {
	if sess == nil {
		s.setAnonymous()
		return
	}
	s.mu.Lock()
	s.session = sess
	s.user = userFromToken(sess)
	s.status = StatusAuthenticated
	s.mu.Unlock()
	s.persistAuthFlag(true)
}

func (s *Store) fetchProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := s.client.Get(ctx, "/auth/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// fetchProfileWithRetry retries the profile load with exponential
// backoff. Bounded attempts; a still-missing profile is reported, not
// retried forever.
func (s *Store) fetchProfileWithRetry(ctx context.Context) (*Profile, error) {
	wait := profileRetryBaseWait
	var lastErr error
	for attempt := 0; attempt < profileRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		p, err := s.fetchProfile(ctx)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("profile not available after %d attempts: %w", profileRetryAttempts, lastErr)
}

func (s *Store) setAnonymous() {
	s.mu.Lock()
	s.user = nil
	s.session = nil
	s.profile = nil
	s.status = StatusAnonymous
	s.mu.Unlock()
	s.persistAuthFlag(false)
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// persistAuthFlag stores only the boolean, never tokens or PII.
func (s *Store) persistAuthFlag(v bool) {
	if s.storage == nil {
		return
	}
	if err := s.storage.Set(authenticatedKey, v); err != nil {
		s.log.Warn("persist auth flag", zap.Error(err))
	}
}

func userFromToken(sess *api.Session) *User {
	claims := tokenClaims(sess)
	if claims == nil {
		return &User{ID: sess.UserID}
	}
	u := &User{ID: sess.UserID}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		u.ID = id
	}
	if email, ok := claims["email"].(string); ok {
		u.Email = email
	}
	return u
}

func roleFromToken(sess *api.Session) string {
	claims := tokenClaims(sess)
	if claims == nil {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}

// tokenClaims decodes the bearer token without verifying the signature;
// verification is the server's job, the client only reads identity
// claims out of it.
func tokenClaims(sess *api.Session) jwt.MapClaims {
	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, claims); err != nil {
		return nil
	}
	return claims
}
