package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"klasskamp-service/internal/domain"
	"klasskamp-service/internal/game"
)

// RoomsHandler exposes room creation over plain HTTP: the teacher's lesson
// page creates a room and shares the returned join code with the class.
type RoomsHandler struct {
	service *game.Service
	logger  *slog.Logger
}

func NewRoomsHandler(service *game.Service, logger *slog.Logger) *RoomsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomsHandler{service: service, logger: logger}
}

type createRoomRequest struct {
	WordClass       string `json:"wordClass"`
	QuestionCount   int    `json:"questionCount,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type createRoomResponse struct {
	Code      string `json:"code"`
	WordClass string `json:"wordClass"`
}

// Create handles POST /api/rooms.
func (h *RoomsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WordClass == "" {
		http.Error(w, "wordClass is required", http.StatusBadRequest)
		return
	}

	room, err := h.service.CreateRoom(r.Context(), game.CreateRoomParams{
		WordClass:       req.WordClass,
		QuestionCount:   req.QuestionCount,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			http.Error(w, "unknown word class", http.StatusNotFound)
			return
		}
		h.logger.Error("create room failed", "wordClass", req.WordClass, "error", err)
		http.Error(w, "could not create room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createRoomResponse{
		Code:      room.Code(),
		WordClass: room.WordClass(),
	})
}
