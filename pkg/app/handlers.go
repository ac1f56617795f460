package app

import (
	"encoding/json"
	"errors"
	"net/http"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"melodiChat/pkg/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8092,
	WriteBufferSize: 8092,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// UID from Access Token contained in Authorization header
		uid := r.Context().Value("UID").(string)

		conversations, err := s.chatService.GetConversations(r.Context(), uid)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, conversations)
	}
}

func (s *Server) CreateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// UID from Access Token contained in Authorization header
		uid := r.Context().Value("UID").(string)

		var newConversation api.NewConversation
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&newConversation); err != nil {
			s.respondErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		conversationId, err := s.chatService.CreateConversation(r.Context(), uid, newConversation.ParticipantId)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusCreated, map[string]string{"id": conversationId})
	}
}

func (s *Server) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// UID from Access Token contained in Authorization header
		uid := r.Context().Value("UID").(string)

		conversationId := chi.URLParam(r, "conversationId")

		messages, err := s.chatService.GetMessages(r.Context(), uid, conversationId)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, messages)
	}
}

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// UID from Access Token contained in Authorization header
		uid := r.Context().Value("UID").(string)

		var newMessage api.NewMessage
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&newMessage); err != nil {
			s.respondErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		message, _, err := s.chatService.SendMessage(r.Context(), uid, newMessage)
		if err != nil {
			s.respondError(w, err)
			return
		}

		// Live delivery to whoever has the room open; the persisted write
		// above is authoritative either way.
		s.hub.CastRoom(message.ConversationId, api.OutgoingEvent{
			Event: api.EventNewMessage,
			Data:  api.NewMessageData{Message: message},
		}, nil)

		s.respondJSON(w, http.StatusCreated, message)
	}
}

// ServeWs authenticates the handshake and hands the connection over to the
// hub. A missing or invalid token is rejected before the upgrade, so an
// anonymous socket never observes any gateway state.
func (s *Server) ServeWs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		firebaseAuth := r.Context().Value("auth").(*fbauth.Client)

		idToken := r.URL.Query().Get("token")
		if idToken == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		token, err := firebaseAuth.VerifyIDToken(r.Context(), idToken)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		var username string
		if users, err := s.userService.GetUserByIds(r.Context(), []string{token.UID}); err == nil && len(users) > 0 {
			username = users[0].Username
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := api.NewClient(s.hub, conn, make(chan []byte, 256), token.UID, username, s.chatService, s.logger)
		s.hub.Register <- client

		// Allow collection of memory referenced by the caller by doing all
		// work in new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("unable to encode response")
	}
}

func (s *Server) respondErrorMessage(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var validation *api.ValidationError
	switch {
	case errors.Is(err, api.ErrNotFound):
		s.respondErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, api.ErrForbidden):
		s.respondErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &validation):
		s.respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "validation failed",
			"field":  validation.Field,
			"reason": validation.Reason,
		})
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.respondErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
