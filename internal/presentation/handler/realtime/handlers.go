package realtime

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/json"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ws"
	"github.com/hilthontt/visper-realtime/internal/presentation/utils"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

const (
	defaultPollWait = 25 * time.Second
	maxPollWait     = 30 * time.Second
	clientBuffer    = 256
)

type Handler struct {
	core     *ws.Core
	sessions *ws.PollSessions
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHandler(core *ws.Core, sessions *ws.PollSessions, logger logging.Logger) *Handler {
	return &Handler{
		core:     core,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dev server: any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWebSocket upgrades the request and runs the peer until it disconnects.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.Hub, logging.Handshake, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	client := ws.NewClient(conn, uuid.NewString(), clientBuffer, h.logger)
	if err := h.core.Register(client); err != nil {
		_ = conn.Close()
		return
	}

	h.logger.Debug(logging.Hub, logging.Handshake, "websocket peer connected", map[logging.ExtraKey]any{
		logging.SessionID: client.ID(),
		logging.ClientIp:  r.RemoteAddr,
	})

	go client.WriteMessage()
	client.ReadMessage(h.core)
}

func (h *Handler) OpenSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Open()
	if err != nil {
		json.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	json.Write(w, http.StatusCreated, openSessionResponse{SessionID: sess.ID()})
}

func (h *Handler) PollEventsHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	wait := utils.DurationParam(r, "wait", defaultPollWait, maxPollWait)
	frames, err := sess.Wait(r.Context(), wait)
	switch {
	case errors.Is(err, ws.ErrSessionClosed):
		json.WriteError(w, http.StatusGone, "session closed")
	case err != nil:
		// The client went away mid-poll.
		return
	default:
		json.Write(w, http.StatusOK, frames)
	}
}

func (h *Handler) EmitHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if sess.Closed() {
		json.WriteError(w, http.StatusGone, "session closed")
		return
	}

	var frame transport.Frame
	if err := json.Read(r, &frame); err != nil {
		json.WriteReadError(w, err)
		return
	}
	if frame.Type == "" {
		json.WriteBadRequestError(w, "frame type is required")
		return
	}

	if err := h.core.Receive(sess, frame); err != nil {
		json.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "sessionId")); err != nil {
		json.WriteNotFoundError(w, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*ws.PollSession, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		json.WriteNotFoundError(w, "session not found")
		return nil, false
	}
	return sess, true
}
