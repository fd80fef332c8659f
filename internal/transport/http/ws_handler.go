package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"klasskamp-service/internal/domain"
	"klasskamp-service/internal/game"
	"klasskamp-service/internal/protocol"
)

// WSHandler is the connection gateway: it terminates WebSocket connections,
// expects a join as the first message, resolves the room via the service and
// from then on only routes decoded messages into that room's event queue.
// Message semantics live in the room, not here.
type WSHandler struct {
	service  *game.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(service *game.Service, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS upgrades the request and runs the connection's read loop.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	c := newConn(ws, h.logger)
	go c.writePump()
	h.readLoop(c)
}

func (h *WSHandler) readLoop(c *conn) {
	var room *game.Room

	defer func() {
		if room != nil {
			room.Disconnect(c.id)
		}
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("ws read error", "conn", c.id, "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			// undecodable frames cannot be attributed to a meaningful
			// error payload; close the connection
			c.sendError(protocol.ErrCodeMalformedMessage, "undecodable message")
			return
		}

		if room == nil {
			room = h.handleJoin(c, env)
			continue
		}

		switch env.Type {
		case protocol.TypeAnswer:
			payload, err := protocol.Decode[protocol.AnswerPayload](env.Data)
			if err != nil {
				c.sendError(protocol.ErrCodeMalformedMessage, "invalid answer payload")
				return
			}
			_ = room.SubmitAnswer(c.id, payload)
		case protocol.TypeStartGame:
			payload, err := protocol.Decode[protocol.StartGamePayload](env.Data)
			if err != nil {
				c.sendError(protocol.ErrCodeMalformedMessage, "invalid start_game payload")
				return
			}
			_ = room.StartGame(c.id, payload.DurationSeconds)
		case protocol.TypeNextQuestion:
			_ = room.NextQuestion(c.id)
		case protocol.TypeEndGame:
			_ = room.EndGame(c.id)
		case protocol.TypeJoin:
			c.sendError(protocol.ErrCodeInvalidState, "already joined a room")
		default:
			c.sendError(protocol.ErrCodeInvalidState, "unsupported message type")
		}
	}
}

// handleJoin processes the first message of a connection. Join failures are
// reported without closing so the client can retry (e.g. with a different
// nickname); a non-join first message is rejected the same way.
func (h *WSHandler) handleJoin(c *conn, env protocol.Envelope) *game.Room {
	if env.Type != protocol.TypeJoin {
		c.sendError(protocol.ErrCodeInvalidState, "join a room first")
		return nil
	}

	payload, err := protocol.Decode[protocol.JoinPayload](env.Data)
	if err != nil {
		c.sendError(protocol.ErrCodeMalformedMessage, "invalid join payload")
		_ = c.Close()
		return nil
	}
	if payload.GameCode == "" || strings.TrimSpace(payload.Nickname) == "" {
		c.sendError(protocol.ErrCodeMalformedMessage, "gameCode and nickname are required")
		_ = c.Close()
		return nil
	}

	room, err := h.service.Room(payload.GameCode)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
		return nil
	}

	if _, err := room.Join(c.id, payload.Nickname, payload.IsTeacher, c); err != nil {
		c.sendError(errorCode(err), err.Error())
		return nil
	}

	h.logger.Info("ws joined", "conn", c.id, "room", payload.GameCode, "teacher", payload.IsTeacher)
	return room
}

// errorCode maps domain errors onto protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return protocol.ErrCodeRoomNotFound
	case errors.Is(err, domain.ErrNicknameTaken):
		return protocol.ErrCodeNicknameTaken
	case errors.Is(err, domain.ErrTeacherTaken),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNotTeacher),
		errors.Is(err, domain.ErrNoQuestions):
		return protocol.ErrCodeInvalidState
	case errors.Is(err, domain.ErrRoomClosed):
		return protocol.ErrCodeRoomNotFound
	default:
		return protocol.ErrCodeInternalError
	}
}
