package messages

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/json"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ws"
)

const ingressHTTP = "http"

type Handler struct {
	messageRepository domain.MessageRepository
	core              *ws.Core
	logger            logging.Logger
}

func NewHandler(messageRepository domain.MessageRepository, core *ws.Core, logger logging.Logger) *Handler {
	return &Handler{
		messageRepository: messageRepository,
		core:              core,
		logger:            logger,
	}
}

// SendMessageHandler persists a message sent over the HTTP fallback path and
// broadcasts it to the chat's realtime members.
func (h *Handler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteReadError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	message, err := h.core.Publish(r.Context(), req.message(), ingressHTTP)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			json.WriteValidationError(w, err)
			return
		}
		json.WriteInternalError(w, h.logger, err)
		return
	}

	json.Write(w, http.StatusCreated, message)
}

func (h *Handler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if chatID == "" {
		json.WriteBadRequestError(w, "chat ID is missing")
		return
	}

	messages, err := h.messageRepository.GetByChatID(r.Context(), chatID)
	if err != nil {
		json.WriteInternalError(w, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, messages)
}
