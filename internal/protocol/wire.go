// Package protocol defines the JSON wire format spoken over the WebSocket
// gateway. Every frame is an Envelope {type, data}; each type carries a fixed
// payload struct and unknown or undecodable fields are rejected.
package protocol

import (
	"bytes"
	"encoding/json"

	"klasskamp-service/internal/domain"
)

// MessageType discriminates envelope payloads.
type MessageType string

// Client → server message types.
const (
	TypeJoin         MessageType = "join"
	TypeAnswer       MessageType = "answer"
	TypeStartGame    MessageType = "start_game"
	TypeNextQuestion MessageType = "next_question"
	TypeEndGame      MessageType = "end_game"
)

// Server → client message types.
const (
	TypeJoinSuccess  MessageType = "join_success"
	TypeRoomUpdate   MessageType = "room_update"
	TypeGameStarted  MessageType = "game_started"
	TypeNewQuestion  MessageType = "new_question"
	TypeAnswerResult MessageType = "answer_result"
	TypeGameFinished MessageType = "game_finished"
	TypeError        MessageType = "error"
)

// Error codes carried in error payloads.
const (
	ErrCodeRoomNotFound     = "ROOM_NOT_FOUND"
	ErrCodeNicknameTaken    = "NICKNAME_TAKEN"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeLateAnswer       = "LATE_ANSWER"
	ErrCodeMalformedMessage = "MALFORMED_MESSAGE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// Envelope is the outer frame for every message in both directions.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload into an envelope, marshalling the payload.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: data}, nil
}

// Decode unmarshals raw payload data into T, rejecting unknown fields so a
// mistyped payload surfaces as a malformed message instead of a zero value.
func Decode[T any](raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) == 0 {
		return payload, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// JoinPayload asks to associate this connection with a room.
type JoinPayload struct {
	GameCode  string `json:"gameCode"`
	Nickname  string `json:"nickname"`
	IsTeacher bool   `json:"isTeacher,omitempty"`
}

// AnswerPayload submits a selection for one question. QuestionNumber pins the
// submission to the question it answers; a submission for a question the room
// has already moved past is rejected as late instead of being scored against
// the current one. Indices are canonical; SelectedWords is accepted for
// clients that submit word texts and is resolved against the question
// server-side. Both empty means the explicit "no words" choice.
type AnswerPayload struct {
	QuestionNumber      int      `json:"questionNumber,omitempty"`
	SelectedWordIndices []int    `json:"selectedWordIndices,omitempty"`
	SelectedWords       []string `json:"selectedWords,omitempty"`
	TimeUsed            int64    `json:"timeUsed"`
}

// StartGamePayload optionally overrides the configured game duration.
type StartGamePayload struct {
	DurationSeconds int `json:"durationSeconds,omitempty"`
}

// PlayerState is the per-player slice of a room snapshot.
type PlayerState struct {
	ID             string `json:"id"`
	Nickname       string `json:"nickname"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	Connected      bool   `json:"connected"`
}

// RoomState is the full room snapshot broadcast on any state change.
type RoomState struct {
	Code                string                    `json:"code"`
	Status              domain.RoomStatus         `json:"status"`
	WordClass           string                    `json:"wordClass"`
	WordClassName       string                    `json:"wordClassName"`
	Players             []PlayerState             `json:"players"`
	Leaderboard         []domain.LeaderboardEntry `json:"leaderboard"`
	QuestionNumber      int                       `json:"questionNumber"`
	QuestionCount       int                       `json:"questionCount"`
	TimeRemaining       int64                     `json:"timeRemaining"`
	GameDurationSeconds int                       `json:"gameDurationSeconds"`
	HasTeacher          bool                      `json:"hasTeacher"`
	TeacherNickname     string                    `json:"teacherNickname,omitempty"`
}

// JoinSuccessPayload confirms a join and hands the client its identity.
type JoinSuccessPayload struct {
	PlayerID  string    `json:"playerId,omitempty"`
	GameCode  string    `json:"gameCode"`
	IsTeacher bool      `json:"isTeacher"`
	State     RoomState `json:"state"`
}

// GameStartedPayload announces the waiting → playing transition.
type GameStartedPayload struct {
	GameDurationSeconds int `json:"gameDurationSeconds"`
	QuestionCount       int `json:"questionCount"`
}

// NewQuestionPayload begins the next round. It never includes the correct
// word positions.
type NewQuestionPayload struct {
	SentenceID     string   `json:"sentenceId"`
	Text           string   `json:"text"`
	Words          []string `json:"words"`
	WordClass      string   `json:"wordClass"`
	WordClassName  string   `json:"wordClassName"`
	QuestionNumber int      `json:"questionNumber"`
	QuestionCount  int      `json:"questionCount"`
	WindowMs       int64    `json:"windowMs"`
}

// AnswerResultPayload reports the scored outcome to the submitter.
type AnswerResultPayload struct {
	IsCorrect    bool     `json:"isCorrect"`
	Points       int      `json:"points"`
	CorrectWords []string `json:"correctWords"`
	TotalScore   int      `json:"totalScore"`
}

// GameFinishedPayload carries the final summary on any transition to finished.
type GameFinishedPayload struct {
	Leaderboard     []domain.LeaderboardEntry `json:"leaderboard"`
	QuestionsPlayed int                       `json:"questionsPlayed"`
	QuestionCount   int                       `json:"questionCount"`
}

// ErrorPayload reports a rejected operation.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
