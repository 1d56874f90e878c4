// Package session keeps the signed-in user's identity and token, and mirrors
// them under the "user-info" key.
package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/chatmirror/pkg/mirror"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Snapshot is the persisted form of a Session.
type Snapshot struct {
	UserInfo        map[string]any `json:"userInfo"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	Token           string         `json:"token,omitempty"`
}

// Session is safe for concurrent use. It implements remote.TokenSource.
type Session struct {
	mu              sync.RWMutex
	userInfo        map[string]any
	isAuthenticated bool
	token           string
}

func New() *Session {
	return &Session{}
}

// SetToken sets the bearer token sent with remote calls. It does not sign
// the user in; SetUser does.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetUser records the user info returned by the server and marks the
// session authenticated.
func (s *Session) SetUser(info map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isAuthenticated = true
	if info == nil {
		s.userInfo = nil
		return
	}
	s.userInfo = clone.Clone(info).(map[string]any)
}

func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfo = nil
	s.token = ""
	s.isAuthenticated = false
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAuthenticated
}

func (s *Session) UserInfo() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userInfo == nil {
		return nil
	}
	return clone.Clone(s.userInfo).(map[string]any)
}

// CheckAuth returns ErrNotAuthenticated until SetUser has been called.
func (s *Session) CheckAuth() error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		IsAuthenticated: s.isAuthenticated,
		Token:           s.token,
	}
	if s.userInfo != nil {
		snap.UserInfo = clone.Clone(s.userInfo).(map[string]any)
	}
	return snap
}

// Restore replaces the session with snap.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = snap.Token
	s.isAuthenticated = snap.IsAuthenticated
	s.userInfo = nil
	if snap.UserInfo != nil {
		s.userInfo = clone.Clone(snap.UserInfo).(map[string]any)
	}
}

func (s *Session) Save(ctx context.Context, m mirror.Mirror) error {
	return mirror.PutJSON(ctx, m, mirror.KeyUserInfo, s.Snapshot())
}

// Load restores the session from m. A missing key leaves it unchanged.
func (s *Session) Load(ctx context.Context, m mirror.Mirror) (bool, error) {
	var snap Snapshot
	ok, err := mirror.GetJSON(ctx, m, mirror.KeyUserInfo, &snap)
	if err != nil {
		return ok, err
	}
	if !ok {
		log.Debug().Msg("no persisted session")
		return false, nil
	}
	s.Restore(snap)
	return true, nil
}
