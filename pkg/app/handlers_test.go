package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"melodiChat/pkg/api"
)

// scriptedChatService returns canned results so the handler layer can be
// exercised without a store.
type scriptedChatService struct {
	conversations []api.ConversationSummary
	messages      []api.MessageDTO
	message       *api.MessageDTO
	createdId     string
	err           error

	markedRead     []string
	sentBy         string
	gotParticipant string
}

func (s *scriptedChatService) IsParticipant(ctx context.Context, userId, conversationId string) bool {
	return s.err == nil
}

func (s *scriptedChatService) GetConversations(ctx context.Context, userId string) ([]api.ConversationSummary, error) {
	return s.conversations, s.err
}

func (s *scriptedChatService) CreateConversation(ctx context.Context, userId, participantId string) (string, error) {
	s.gotParticipant = participantId
	return s.createdId, s.err
}

func (s *scriptedChatService) GetMessages(ctx context.Context, userId, conversationId string) ([]api.MessageDTO, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.markedRead = append(s.markedRead, conversationId)
	return s.messages, nil
}

func (s *scriptedChatService) SendMessage(ctx context.Context, senderId string, in api.NewMessage) (*api.MessageDTO, []string, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	s.sentBy = senderId
	return s.message, []string{"u1", "u2"}, nil
}

func (s *scriptedChatService) MarkConversationRead(ctx context.Context, userId, conversationId string) error {
	return s.err
}

func newTestServer(t *testing.T, chatService api.ChatService) *Server {
	t.Helper()
	hub := api.NewHub(zerolog.Nop())
	go hub.Run()
	return NewServer(chi.NewRouter(), nil, chatService, hub, nil, nil, ":0", zerolog.Nop())
}

func authedRequest(method, target string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(context.WithValue(r.Context(), "UID", "u1"))
}

func TestGetConversationsReturnsList(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	service := &scriptedChatService{
		conversations: []api.ConversationSummary{
			{Id: "c1", OtherUser: api.UserSummary{Id: "u2", Username: "mehmet"}, LastMessage: "Merhaba", LastMessageAt: &at},
		},
	}
	server := newTestServer(t, service)

	w := httptest.NewRecorder()
	server.GetConversations()(w, authedRequest(http.MethodGet, "/conversations", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []api.ConversationSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Id != "c1" || got[0].OtherUser.Username != "mehmet" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCreateConversationReturnsId(t *testing.T) {
	service := &scriptedChatService{createdId: "c1"}
	server := newTestServer(t, service)

	w := httptest.NewRecorder()
	server.CreateConversation()(w, authedRequest(http.MethodPost, "/conversations", []byte(`{"participantId":"u2"}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "c1" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if service.gotParticipant != "u2" {
		t.Fatalf("participant id not passed through, got %q", service.gotParticipant)
	}
}

func TestCreateConversationRejectsUnknownFields(t *testing.T) {
	server := newTestServer(t, &scriptedChatService{createdId: "c1"})

	w := httptest.NewRecorder()
	server.CreateConversation()(w, authedRequest(http.MethodPost, "/conversations", []byte(`{"participantId":"u2","admin":true}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestErrorTaxonomyMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", api.ErrNotFound, http.StatusNotFound},
		{"forbidden", api.ErrForbidden, http.StatusForbidden},
		{"validation", &api.ValidationError{Field: "content", Reason: "is required"}, http.StatusBadRequest},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, &scriptedChatService{err: tc.err})

			w := httptest.NewRecorder()
			server.GetMessages()(w, authedRequest(http.MethodGet, "/conversations/c1/messages", nil))

			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestValidationErrorCarriesFieldDetail(t *testing.T) {
	service := &scriptedChatService{err: &api.ValidationError{Field: "content", Reason: "is required when no image is attached"}}
	server := newTestServer(t, service)

	w := httptest.NewRecorder()
	server.SendMessage()(w, authedRequest(http.MethodPost, "/messages", []byte(`{"conversationId":"c1"}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["field"] != "content" {
		t.Fatalf("expected field detail, got %s", w.Body.String())
	}
}

func TestSendMessageReturnsCreatedMessage(t *testing.T) {
	message := &api.MessageDTO{
		Id:             "m1",
		ConversationId: "c1",
		SenderId:       "u1",
		Content:        "Merhaba",
		CreatedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	service := &scriptedChatService{message: message}
	server := newTestServer(t, service)

	w := httptest.NewRecorder()
	server.SendMessage()(w, authedRequest(http.MethodPost, "/messages", []byte(`{"conversationId":"c1","content":"Merhaba"}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var got api.MessageDTO
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Id != "m1" || got.Content != "Merhaba" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if service.sentBy != "u1" {
		t.Fatalf("sender uid not passed through, got %q", service.sentBy)
	}
}

func TestServeWsRejectsAnonymousHandshake(t *testing.T) {
	// The hub is not running: a handler that reached the register channel
	// would block here instead of returning.
	hub := api.NewHub(zerolog.Nop())
	server := NewServer(chi.NewRouter(), nil, &scriptedChatService{}, hub, nil, nil, ":0", zerolog.Nop())

	for _, target := range []string{"/ws", "/ws?token="} {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		r = r.WithContext(context.WithValue(r.Context(), "auth", (*fbauth.Client)(nil)))

		w := httptest.NewRecorder()
		server.ServeWs()(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, w.Code)
		}
		if w.Header().Get("Upgrade") != "" {
			t.Fatalf("%s: connection must be refused before the upgrade", target)
		}
	}
}

func TestGetMessagesInvokesReadMark(t *testing.T) {
	service := &scriptedChatService{messages: []api.MessageDTO{{Id: "m1", ConversationId: "c1", SenderId: "u2", IsRead: true}}}
	server := newTestServer(t, service)

	router := chi.NewRouter()
	router.Get("/conversations/{conversationId}/messages", server.GetMessages())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/conversations/c1/messages", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(service.markedRead) != 1 || service.markedRead[0] != "c1" {
		t.Fatalf("read-mark side effect missing: %v", service.markedRead)
	}
}
