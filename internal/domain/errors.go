package domain

import "errors"

var (
	// ErrRoomNotFound is returned for an unknown or expired room code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNicknameTaken is returned when a nickname is already used in a room.
	ErrNicknameTaken = errors.New("nickname already taken in this room")
	// ErrInvalidState rejects an operation the room's current state forbids.
	ErrInvalidState = errors.New("operation not allowed in current room state")
	// ErrNotTeacher rejects a control command from a non-teacher connection.
	ErrNotTeacher = errors.New("only the teacher can do that")
	// ErrTeacherTaken rejects a second concurrent teacher connection.
	ErrTeacherTaken = errors.New("room already has a teacher connection")
	// ErrNoQuestions means no questions could be built from the sentence pool.
	ErrNoQuestions = errors.New("no questions available for this word class")
	// ErrPlayerNotFound is returned when a submission has no matching player.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrPoolNotFound indicates the sentence pool could not be loaded.
	ErrPoolNotFound = errors.New("sentence pool not found")
	// ErrRoomClosed is returned when an event is sent to a retired room.
	ErrRoomClosed = errors.New("room is closed")
)
