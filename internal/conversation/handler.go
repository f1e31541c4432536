package conversation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

const maxRequestBytes = 64 << 10

// Service is the surface the HTTP handler needs from the engine.
type Service interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error)
	GetSession(ctx context.Context, id string) (*Session, error)
}

var _ Service = (*Engine)(nil)

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message        string            `json:"message" validate:"required,max=4000"`
	ConversationID string            `json:"conversation_id" validate:"omitempty,max=128,printascii"`
	History        []ChatHistoryItem `json:"history" validate:"omitempty,max=50,dive"`
}

type ChatHistoryItem struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"max=4000"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler wires HTTP requests to the conversation engine.
type Handler struct {
	service  Service
	validate *validator.Validate
	logger   *logging.Logger
}

func NewHandler(service Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode chat request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: formatValidationErrors(err)})
		return
	}

	history := make([]ChatMessage, 0, len(req.History))
	for _, item := range req.History {
		history = append(history, ChatMessage{Role: item.Role, Content: item.Content})
	}

	resp, err := h.service.ProcessMessage(r.Context(), MessageRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		History:        history,
		RequestID:      middleware.GetReqID(r.Context()),
	})
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrEmptyMessage):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrLockTimeout):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "Sorry, our scheduling system is temporarily unavailable. Please try again in a few minutes.",
		})
	default:
		h.logger.Error("failed to process message", "conversation_id", req.ConversationID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to process message"})
	}
}

// GetConversation handles GET /conversations/{id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "conversation id is required"})
		return
	}
	session, err := h.service.GetSession(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, session)
	case errors.Is(err, ErrSessionNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
	default:
		h.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to load conversation"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		case "oneof":
			msgs = append(msgs, field+" must be one of "+strings.Join(strings.Fields(fe.Param()), ", "))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}
