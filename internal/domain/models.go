package domain

import "time"

// RoomStatus is the lifecycle state of a game room.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// Word is one token of a sentence with its grammatical class annotation.
type Word struct {
	Text  string `json:"text"`
	Class string `json:"class"`
}

// Sentence is one annotated sentence from the grammar content store.
type Sentence struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// SentencePool is the set of sentences available for one word class.
type SentencePool struct {
	WordClass   string     `json:"wordClass"`
	DisplayName string     `json:"displayName"`
	Sentences   []Sentence `json:"sentences"`
}

// Player is one participant inside a room. Score and CorrectAnswers only
// ever increase; Connected flips on disconnect/rejoin without resetting them.
type Player struct {
	ID             string    `json:"id"`
	Nickname       string    `json:"nickname"`
	Score          int       `json:"score"`
	CorrectAnswers int       `json:"correctAnswers"`
	Connected      bool      `json:"connected"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// Question is one round of a game. CorrectIndices is computed once when the
// question is built and never recomputed from client input.
type Question struct {
	SentenceID     string   `json:"sentenceId"`
	Text           string   `json:"text"`
	Words          []string `json:"words"`
	TargetClass    string   `json:"targetClass"`
	CorrectIndices []int    `json:"correctIndices"`
}

// CorrectWords returns the word texts at the correct positions.
func (q Question) CorrectWords() []string {
	words := make([]string, 0, len(q.CorrectIndices))
	for _, idx := range q.CorrectIndices {
		if idx >= 0 && idx < len(q.Words) {
			words = append(words, q.Words[idx])
		}
	}
	return words
}

// LeaderboardEntry is a snapshot-friendly ranked view of a player.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	PlayerID       string `json:"playerId"`
	Nickname       string `json:"nickname"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	Connected      bool   `json:"connected"`
}

// GameSummary captures the final state of a finished game for result sinks.
type GameSummary struct {
	Code            string             `json:"code"`
	WordClass       string             `json:"wordClass"`
	QuestionsPlayed int                `json:"questionsPlayed"`
	QuestionCount   int                `json:"questionCount"`
	Leaderboard     []LeaderboardEntry `json:"leaderboard"`
	FinishedAt      time.Time          `json:"finishedAt"`
}
