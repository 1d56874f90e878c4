// Package remotetest provides an in-memory implementation of the
// conversation service, for tests and local development.
package remotetest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/remote"
	"github.com/rs/zerolog/log"
)

// Failure is an injected application error answered instead of the real
// response.
type Failure struct {
	Code int
	Msg  string
}

// RecordedRequest is a request the server received.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Body          map[string]any
}

type Server struct {
	mu            sync.Mutex
	prefix        string
	token         string
	conversations []*conversation.Conversation
	userInfo      map[string]any
	failures      map[string][]Failure
	requests      []RecordedRequest
	now           func() time.Time
}

type Option func(*Server)

// WithPrefix mounts the routes under prefix, e.g. "/api".
func WithPrefix(prefix string) Option {
	return func(s *Server) {
		s.prefix = strings.TrimRight(prefix, "/")
	}
}

// WithToken makes every route require "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func WithUserInfo(info map[string]any) Option {
	return func(s *Server) {
		s.userInfo = info
	}
}

func NewServer(options ...Option) *Server {
	s := &Server{
		conversations: []*conversation.Conversation{},
		userInfo:      map[string]any{},
		failures:      map[string][]Failure{},
		now:           time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Seed appends a conversation to the server-side list.
func (s *Server) Seed(c *conversation.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, c.Clone())
}

// FailNext makes the next call of op answer with the given code and msg.
func (s *Server) FailNext(op string, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], Failure{Code: code, Msg: msg})
}

func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *Server) Conversations() []*conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		ret = append(ret, c.Clone())
	}
	return ret
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.record)
	r.Use(s.authenticate)

	routes := func(r chi.Router) {
		r.Get("/conversations/", s.handle(remote.OpListConversations, s.listConversations))
		r.Get("/conversations/{id}/messages/", s.handle(remote.OpListMessages, s.listMessages))
		r.Post("/conversations/create/", s.handle(remote.OpCreateConversation, s.createConversation))
		r.Put("/conversations/{id}/update-title/", s.handle(remote.OpUpdateTitle, s.updateTitle))
		r.Delete("/conversations/{id}/delete/", s.handle(remote.OpDeleteConversation, s.deleteConversation))
		r.Post("/conversations/message/save/", s.handle(remote.OpSaveMessage, s.saveMessage))
		r.Get("/getUserInfo/", s.handle(remote.OpGetUserInfo, s.getUserInfo))
	}
	if s.prefix != "" {
		r.Route(s.prefix, routes)
	} else {
		routes(r)
	}
	return r
}

type handlerFunc func(r *http.Request, body map[string]any) map[string]any

func (s *Server) handle(op string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "msg": "invalid JSON body"})
				return
			}
		}

		s.mu.Lock()
		if fs := s.failures[op]; len(fs) > 0 {
			f := fs[0]
			s.failures[op] = fs[1:]
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"code": f.Code, "msg": f.Msg})
			return
		}
		resp := h(r, body)
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			b, err := io.ReadAll(r.Body)
			if err == nil && len(b) > 0 {
				_ = json.Unmarshal(b, &rec.Body)
			}
			r.Body = io.NopCloser(bytes.NewReader(b))
		}

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) find(id string) (*conversation.Conversation, int) {
	for i, c := range s.conversations {
		if c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

func (s *Server) listConversations(_ *http.Request, _ map[string]any) map[string]any {
	convs := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		// the list endpoint does not ship message histories
		convs = append(convs, &conversation.Conversation{ID: c.ID, Title: c.Title, Date: c.Date})
	}
	return ok("conversations", convs)
}

func (s *Server) listMessages(r *http.Request, _ map[string]any) map[string]any {
	c, _ := s.find(chi.URLParam(r, "id"))
	if c == nil {
		return fail(404, "conversation not found")
	}
	return ok("messages", c.Messages)
}

func (s *Server) createConversation(_ *http.Request, body map[string]any) map[string]any {
	id, _ := body["id"].(string)
	title, _ := body["title"].(string)
	if id == "" {
		return fail(400, "id is required")
	}
	if c, _ := s.find(id); c != nil {
		return fail(409, "conversation already exists")
	}
	c := conversation.NewConversation(id, title, s.now())
	s.conversations = append([]*conversation.Conversation{c}, s.conversations...)
	return ok("", nil)
}

func (s *Server) updateTitle(r *http.Request, body map[string]any) map[string]any {
	c, _ := s.find(chi.URLParam(r, "id"))
	if c == nil {
		return fail(404, "conversation not found")
	}
	title, _ := body["title"].(string)
	c.Title = title
	return ok("", nil)
}

func (s *Server) deleteConversation(r *http.Request, _ map[string]any) map[string]any {
	_, idx := s.find(chi.URLParam(r, "id"))
	if idx < 0 {
		return fail(404, "conversation not found")
	}
	s.conversations = append(s.conversations[:idx:idx], s.conversations[idx+1:]...)
	return ok("", nil)
}

func (s *Server) saveMessage(_ *http.Request, body map[string]any) map[string]any {
	id, _ := body["conversation_id"].(string)
	c, _ := s.find(id)
	if c == nil {
		return fail(404, "conversation not found")
	}
	role, _ := body["role"].(string)
	content, _ := body["content"].(string)
	c.Messages = append(c.Messages, conversation.NewMessage(conversation.Role(role), content))
	return ok("", nil)
}

func (s *Server) getUserInfo(_ *http.Request, _ map[string]any) map[string]any {
	return ok("userInfo", s.userInfo)
}

func ok(field string, payload any) map[string]any {
	ret := map[string]any{"code": remote.CodeOK, "msg": "success"}
	if field != "" {
		ret[field] = payload
	}
	return ret
}

func fail(code int, msg string) map[string]any {
	return map[string]any{"code": code, "msg": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("could not write fake server response")
	}
}
