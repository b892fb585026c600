package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/identity"
	"github.com/leonletto/chatsync/internal/store"
	"github.com/leonletto/chatsync/internal/types"
)

const maxBodyBytes = 64 << 10

// registerRoutes wires the REST API under /api/v1.
func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/profile/{userId}", s.getProfile).Methods(http.MethodGet)

	r.HandleFunc("/messages/{counterpartId}", s.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/{fromId}/{toId}", s.clearConversation).Methods(http.MethodDelete)
	r.HandleFunc("/message", s.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/message/everyone/{id}", s.recallMessage).Methods(http.MethodPut)
	r.HandleFunc("/message/{id}", s.editMessage).Methods(http.MethodPut)

	r.HandleFunc("/notification", s.postNotification).Methods(http.MethodPost)
	r.HandleFunc("/notifications", s.listNotifications).Methods(http.MethodGet)
}

type profileResponse struct {
	Data types.Profile `json:"data"`
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	p, err := s.store.GetProfile(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Data: p})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerFrom(r.Context())
	counterpart := mux.Vars(r)["counterpartId"]

	messages, err := s.store.ListConversation(r.Context(), viewer, counterpart)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerFrom(r.Context())

	var req api.SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := identity.ValidateUserID(req.To); err != nil {
		writeError(w, http.StatusBadRequest, "to_id: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "chatMessage is required")
		return
	}

	m, err := s.store.CreateMessage(r.Context(), viewer, req.To, req.ToName, req.Body)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("message_id", m.ID).Str("to", m.To).Msg("message created")
	s.publish(m.To, "message.created", viewer, m.ID)
	writeJSON(w, http.StatusCreated, m)
}

type editBody struct {
	Message string `json:"message"`
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	var body editBody
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	m, ok := s.authoredMessage(w, r)
	if !ok {
		return
	}
	edited, err := s.store.EditMessage(r.Context(), m.ID, body.Message)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("message_id", m.ID).Msg("message edited")
	s.publish(edited.To, "message.edited", edited.From, edited.ID)
	writeJSON(w, http.StatusOK, edited)
}

func (s *Server) recallMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.authoredMessage(w, r)
	if !ok {
		return
	}
	recalled, err := s.store.WithdrawMessage(r.Context(), m.ID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("message_id", m.ID).Msg("message recalled")
	s.publish(recalled.To, "message.recalled", recalled.From, recalled.ID)
	writeJSON(w, http.StatusOK, recalled)
}

type clearResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) clearConversation(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerFrom(r.Context())
	vars := mux.Vars(r)
	fromID, toID := vars["fromId"], vars["toId"]

	var other string
	switch viewer {
	case fromID:
		other = toID
	case toID:
		other = fromID
	default:
		writeError(w, http.StatusForbidden, "viewer is not part of this conversation")
		return
	}

	n, err := s.store.ClearConversation(r.Context(), fromID, toID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Int64("deleted", n).Str("counterpart", other).Msg("conversation cleared")
	s.publish(other, "conversation.cleared", viewer, "")
	writeJSON(w, http.StatusOK, clearResponse{Deleted: n})
}

func (s *Server) postNotification(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerFrom(r.Context())

	var n types.Notification
	if !decodeBody(w, r, &n) {
		return
	}
	if n.FromID == "" {
		n.FromID = viewer
	}
	if n.FromID != viewer {
		writeError(w, http.StatusForbidden, "fromId must be the viewer")
		return
	}
	if err := identity.ValidateUserID(n.ToID); err != nil {
		writeError(w, http.StatusBadRequest, "toId: "+err.Error())
		return
	}

	created, err := s.store.CreateNotification(r.Context(), n)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.publish(created.ToID, "notification.created", viewer, created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListNotifications(r.Context(), ViewerFrom(r.Context()))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// authoredMessage loads the {id} message and checks the viewer wrote it.
func (s *Server) authoredMessage(w http.ResponseWriter, r *http.Request) (types.Message, bool) {
	m, err := s.store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, r, err)
		return types.Message{}, false
	}
	if m.From != ViewerFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "only the author may change this message")
		return types.Message{}, false
	}
	return m, true
}

// pushData is the opaque payload of push events. Clients only use the
// event's arrival; the fields help when debugging.
type pushData struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	MessageID string `json:"message_id,omitempty"`
}

func (s *Server) publish(channel, kind, from, id string) {
	n := s.hub.Publish(channel, pushData{Type: kind, From: from, MessageID: id})
	s.logger.Debug().Str("channel", channel).Str("type", kind).Int("delivered", n).Msg("push event published")
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type errorBody struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
