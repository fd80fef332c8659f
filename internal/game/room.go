package game

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"klasskamp-service/internal/domain"
	"klasskamp-service/internal/protocol"
)

// Sender is the room's outbound half of a connection. Implementations must
// not block: the room's worker goroutine calls Send inline.
type Sender interface {
	Send(env protocol.Envelope) error
	Close() error
}

// Settings are the per-room game parameters.
type Settings struct {
	QuestionCount  int
	QuestionWindow time.Duration
	GameDuration   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		QuestionCount:  10,
		QuestionWindow: 20 * time.Second,
		GameDuration:   2 * time.Minute,
	}
}

const (
	eventQueueSize  = 256
	sinkSaveTimeout = 5 * time.Second
)

// Room events. Everything that can touch room state arrives through one of
// these; the worker goroutine applies them in FIFO order.
type event interface{}

type joinEvent struct {
	connID    string
	nickname  string
	isTeacher bool
	sender    Sender
	reply     chan joinReply
}

type joinReply struct {
	playerID string
	err      error
}

type answerEvent struct {
	connID  string
	payload protocol.AnswerPayload
}

type startEvent struct {
	connID          string
	durationSeconds int
}

type advanceEvent struct{ connID string }

type endEvent struct{ connID string }

type disconnectEvent struct{ connID string }

type snapshotEvent struct{ reply chan protocol.RoomState }

type gameTimeUpEvent struct{ gen uint64 }

type questionTimeUpEvent struct{ gen uint64 }

// Room is one game session: an actor owning the player roster, question
// cursor and scores. Connections and timers only enqueue events; the single
// worker goroutine drains the queue, so every state transition is applied
// atomically in arrival order. Many rooms run in parallel without contention.
type Room struct {
	code      string
	pool      domain.SentencePool
	settings  Settings
	sequencer *Sequencer
	sink      ResultSink
	logger    *slog.Logger
	now       func() time.Time

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// read by the registry's cleanup loop
	lastActive   atomic.Int64
	liveConns    atomic.Int32
	finishedFlag atomic.Bool

	// state below is owned exclusively by the worker goroutine
	status           domain.RoomStatus
	teacherConnID    string
	teacherNickname  string
	senders          map[string]Sender
	playersByConn    map[string]string
	connByPlayer     map[string]string
	players          map[string]*domain.Player
	questions        []domain.Question
	questionIndex    int
	answered         map[string]bool
	questionDeadline time.Time
	gameDeadline     time.Time
	gameDuration     time.Duration
	gameTimerGen     uint64
	questionTimerGen uint64
	timers           timerSet
}

func newRoom(code string, pool domain.SentencePool, settings Settings, sequencer *Sequencer, sink ResultSink, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Room{
		code:          code,
		pool:          pool,
		settings:      settings,
		sequencer:     sequencer,
		sink:          sink,
		logger:        logger.With("room", code),
		now:           time.Now,
		events:        make(chan event, eventQueueSize),
		done:          make(chan struct{}),
		status:        domain.StatusWaiting,
		senders:       make(map[string]Sender),
		playersByConn: make(map[string]string),
		connByPlayer:  make(map[string]string),
		players:       make(map[string]*domain.Player),
	}
	r.lastActive.Store(r.now().UnixNano())
	go r.run()
	return r
}

func (r *Room) Code() string { return r.code }

// WordClass returns the grammatical category this room quizzes on.
func (r *Room) WordClass() string { return r.pool.WordClass }

// Join registers a connection with the room and blocks until the room's
// worker has processed it. On success the room has already sent join_success
// to the sender; for players the assigned player ID is returned.
func (r *Room) Join(connID, nickname string, isTeacher bool, sender Sender) (string, error) {
	reply := make(chan joinReply, 1)
	if err := r.enqueue(joinEvent{connID: connID, nickname: nickname, isTeacher: isTeacher, sender: sender, reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.playerID, res.err
	case <-r.done:
		return "", domain.ErrRoomClosed
	}
}

// SubmitAnswer enqueues a submission; the result is delivered to the
// connection as an answer_result (or error) message.
func (r *Room) SubmitAnswer(connID string, payload protocol.AnswerPayload) error {
	return r.enqueue(answerEvent{connID: connID, payload: payload})
}

// StartGame enqueues the teacher start command.
func (r *Room) StartGame(connID string, durationSeconds int) error {
	return r.enqueue(startEvent{connID: connID, durationSeconds: durationSeconds})
}

// NextQuestion enqueues a teacher-forced advancement.
func (r *Room) NextQuestion(connID string) error {
	return r.enqueue(advanceEvent{connID: connID})
}

// EndGame enqueues the teacher end command.
func (r *Room) EndGame(connID string) error {
	return r.enqueue(endEvent{connID: connID})
}

// Disconnect detaches a connection. Player state survives: the player may
// rejoin by nickname and keeps score and correct-answer count.
func (r *Room) Disconnect(connID string) {
	_ = r.enqueue(disconnectEvent{connID: connID})
}

// Snapshot returns the current room state as seen by clients.
func (r *Room) Snapshot() (protocol.RoomState, error) {
	reply := make(chan protocol.RoomState, 1)
	if err := r.enqueue(snapshotEvent{reply: reply}); err != nil {
		return protocol.RoomState{}, err
	}
	select {
	case state := <-reply:
		return state, nil
	case <-r.done:
		return protocol.RoomState{}, domain.ErrRoomClosed
	}
}

func (r *Room) enqueue(ev event) error {
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return domain.ErrRoomClosed
	}
}

// close stops the worker and timers. Called by the registry on retirement.
func (r *Room) close() {
	r.closeOnce.Do(func() {
		r.timers.cancelAll()
		close(r.done)
	})
}

// idleFor reports how long ago the room last processed an event.
func (r *Room) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, r.lastActive.Load()))
}

// retirable reports whether the cleanup loop may retire this room: finished
// and idle past the grace period, or abandoned by every connection.
func (r *Room) retirable(now time.Time, grace time.Duration) bool {
	if r.idleFor(now) < grace {
		return false
	}
	return r.finishedFlag.Load() || r.liveConns.Load() == 0
}

func (r *Room) run() {
	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-r.done:
			return
		}
	}
}

func (r *Room) handle(ev event) {
	r.lastActive.Store(r.now().UnixNano())
	switch ev := ev.(type) {
	case joinEvent:
		r.handleJoin(ev)
	case answerEvent:
		r.handleAnswer(ev)
	case startEvent:
		r.handleStart(ev)
	case advanceEvent:
		r.handleAdvance(ev)
	case endEvent:
		r.handleEnd(ev)
	case disconnectEvent:
		r.handleDisconnect(ev)
	case gameTimeUpEvent:
		r.handleGameTimeUp(ev)
	case questionTimeUpEvent:
		r.handleQuestionTimeUp(ev)
	case snapshotEvent:
		ev.reply <- r.state()
	}
}

func (r *Room) handleJoin(ev joinEvent) {
	if ev.isTeacher {
		if r.teacherConnID != "" {
			ev.reply <- joinReply{err: domain.ErrTeacherTaken}
			return
		}
		r.teacherConnID = ev.connID
		r.teacherNickname = ev.nickname
		r.senders[ev.connID] = ev.sender
		r.liveConns.Add(1)
		ev.reply <- joinReply{}
		r.sendTo(ev.connID, protocol.TypeJoinSuccess, protocol.JoinSuccessPayload{
			GameCode:  r.code,
			IsTeacher: true,
			State:     r.state(),
		})
		r.broadcastState()
		r.logger.Info("teacher joined", "nickname", ev.nickname)
		return
	}

	nickname := strings.TrimSpace(ev.nickname)
	switch r.status {
	case domain.StatusWaiting:
		if existing := r.playerByNickname(nickname); existing != nil {
			if existing.Connected {
				ev.reply <- joinReply{err: domain.ErrNicknameTaken}
				return
			}
			r.attach(existing, ev)
			return
		}
		player := &domain.Player{
			ID:        uuid.NewString(),
			Nickname:  nickname,
			Connected: true,
			JoinedAt:  r.now(),
		}
		r.players[player.ID] = player
		r.attach(player, ev)
	case domain.StatusPlaying:
		existing := r.playerByNickname(nickname)
		if existing == nil {
			// mid-game joins are rejoin-by-nickname only
			ev.reply <- joinReply{err: domain.ErrInvalidState}
			return
		}
		if existing.Connected {
			ev.reply <- joinReply{err: domain.ErrNicknameTaken}
			return
		}
		r.attach(existing, ev)
	default:
		ev.reply <- joinReply{err: domain.ErrInvalidState}
	}
}

// attach binds a connection to a (new or rejoining) player and confirms the
// join. A rejoiner mid-game also receives the current question.
func (r *Room) attach(player *domain.Player, ev joinEvent) {
	if old, ok := r.connByPlayer[player.ID]; ok && old != "" {
		delete(r.senders, old)
		delete(r.playersByConn, old)
	}
	player.Connected = true
	r.senders[ev.connID] = ev.sender
	r.playersByConn[ev.connID] = player.ID
	r.connByPlayer[player.ID] = ev.connID
	r.liveConns.Add(1)
	ev.reply <- joinReply{playerID: player.ID}

	r.sendTo(ev.connID, protocol.TypeJoinSuccess, protocol.JoinSuccessPayload{
		PlayerID: player.ID,
		GameCode: r.code,
		State:    r.state(),
	})
	if r.status == domain.StatusPlaying {
		r.sendTo(ev.connID, protocol.TypeNewQuestion, r.questionPayload())
	}
	r.broadcastState()
	r.logger.Info("player joined", "nickname", player.Nickname, "player", player.ID)
}

func (r *Room) handleStart(ev startEvent) {
	if ev.connID != r.teacherConnID {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, domain.ErrNotTeacher.Error())
		return
	}
	if r.status != domain.StatusWaiting {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, "game already started")
		return
	}

	questions := r.sequencer.BuildQuestions(r.pool.WordClass, r.pool.Sentences, r.settings.QuestionCount)
	if len(questions) == 0 {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, domain.ErrNoQuestions.Error())
		return
	}

	duration := r.settings.GameDuration
	if ev.durationSeconds > 0 {
		duration = time.Duration(ev.durationSeconds) * time.Second
	}

	r.questions = questions
	r.questionIndex = 0
	r.status = domain.StatusPlaying
	r.gameDuration = duration
	r.gameDeadline = r.now().Add(duration)
	r.gameTimerGen = r.timers.startGame(duration, func(gen uint64) {
		_ = r.enqueue(gameTimeUpEvent{gen: gen})
	})

	r.broadcast(protocol.TypeGameStarted, protocol.GameStartedPayload{
		GameDurationSeconds: int(duration / time.Second),
		QuestionCount:       len(questions),
	})
	r.beginQuestion()
	r.logger.Info("game started", "questions", len(questions), "duration", duration)
}

func (r *Room) beginQuestion() {
	r.answered = make(map[string]bool, len(r.players))
	r.questionDeadline = r.now().Add(r.settings.QuestionWindow)
	r.questionTimerGen = r.timers.startQuestion(r.settings.QuestionWindow, func(gen uint64) {
		_ = r.enqueue(questionTimeUpEvent{gen: gen})
	})
	r.broadcast(protocol.TypeNewQuestion, r.questionPayload())
	r.broadcastState()
}

func (r *Room) questionPayload() protocol.NewQuestionPayload {
	q := r.questions[r.questionIndex]
	return protocol.NewQuestionPayload{
		SentenceID:     q.SentenceID,
		Text:           q.Text,
		Words:          q.Words,
		WordClass:      q.TargetClass,
		WordClassName:  r.pool.DisplayName,
		QuestionNumber: r.questionIndex + 1,
		QuestionCount:  len(r.questions),
		WindowMs:       r.settings.QuestionWindow.Milliseconds(),
	}
}

func (r *Room) handleAnswer(ev answerEvent) {
	playerID, ok := r.playersByConn[ev.connID]
	if !ok {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, "not a player in this room")
		return
	}
	if r.status != domain.StatusPlaying {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, "no question is active")
		return
	}
	if ev.payload.QuestionNumber != 0 && ev.payload.QuestionNumber != r.questionIndex+1 {
		// the room moved on while this submission was in flight; never
		// score it against the question now showing, and keep the
		// player's attempt for the current one
		r.errTo(ev.connID, protocol.ErrCodeLateAnswer, "answer arrived after its question closed")
		return
	}
	if r.answered[playerID] {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, "already answered this question")
		return
	}
	player := r.players[playerID]
	if player == nil {
		r.errTo(ev.connID, protocol.ErrCodeInternalError, domain.ErrPlayerNotFound.Error())
		return
	}

	q := r.questions[r.questionIndex]
	selected := resolveSelection(q, ev.payload)
	timeUsed := time.Duration(ev.payload.TimeUsed) * time.Millisecond
	late := r.now().After(r.questionDeadline)

	correct, points := Score(q.CorrectIndices, selected, timeUsed, r.settings.QuestionWindow)
	if late {
		// acknowledged but never awarded
		points = 0
	}
	if correct && !late {
		player.Score += points
		player.CorrectAnswers++
	}
	r.answered[playerID] = true

	r.sendTo(ev.connID, protocol.TypeAnswerResult, protocol.AnswerResultPayload{
		IsCorrect:    correct,
		Points:       points,
		CorrectWords: q.CorrectWords(),
		TotalScore:   player.Score,
	})
	r.broadcastState()

	if r.allAnswered() {
		r.advance()
	}
}

// resolveSelection turns a wire payload into an index set. Indices are
// canonical; clients submitting word texts select every position holding one
// of those words, matched case-insensitively.
func resolveSelection(q domain.Question, payload protocol.AnswerPayload) []int {
	if len(payload.SelectedWords) == 0 || len(payload.SelectedWordIndices) > 0 {
		return payload.SelectedWordIndices
	}
	want := make(map[string]struct{}, len(payload.SelectedWords))
	for _, word := range payload.SelectedWords {
		want[strings.ToLower(strings.TrimSpace(word))] = struct{}{}
	}
	var selected []int
	for i, word := range q.Words {
		if _, ok := want[strings.ToLower(word)]; ok {
			selected = append(selected, i)
		}
	}
	return selected
}

// allAnswered reports whether every connected player has answered the
// current question. Disconnected players never block advancement.
func (r *Room) allAnswered() bool {
	for id, player := range r.players {
		if player.Connected && !r.answered[id] {
			return false
		}
	}
	return true
}

func (r *Room) handleAdvance(ev advanceEvent) {
	if ev.connID != r.teacherConnID {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, domain.ErrNotTeacher.Error())
		return
	}
	if r.status != domain.StatusPlaying {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, "game is not running")
		return
	}
	r.completeQuestion()
}

func (r *Room) handleEnd(ev endEvent) {
	if ev.connID != r.teacherConnID {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, domain.ErrNotTeacher.Error())
		return
	}
	if r.status != domain.StatusPlaying {
		r.errTo(ev.connID, protocol.ErrCodeInvalidState, "game is not running")
		return
	}
	r.finish()
}

func (r *Room) handleGameTimeUp(ev gameTimeUpEvent) {
	if ev.gen != r.gameTimerGen || r.status != domain.StatusPlaying {
		return
	}
	r.logger.Info("game timer expired", "question", r.questionIndex+1)
	r.finish()
}

func (r *Room) handleQuestionTimeUp(ev questionTimeUpEvent) {
	if ev.gen != r.questionTimerGen || r.status != domain.StatusPlaying {
		return
	}
	r.completeQuestion()
}

// completeQuestion scores a "no answer" for everyone still outstanding and
// moves on. Absence of interaction is never the explicit "no words" choice,
// so it scores zero even when the correct set is empty.
func (r *Room) completeQuestion() {
	q := r.questions[r.questionIndex]
	for id, player := range r.players {
		if !player.Connected || r.answered[id] {
			continue
		}
		if connID, ok := r.connByPlayer[id]; ok {
			r.sendTo(connID, protocol.TypeAnswerResult, protocol.AnswerResultPayload{
				IsCorrect:    false,
				Points:       0,
				CorrectWords: q.CorrectWords(),
				TotalScore:   player.Score,
			})
		}
	}
	r.advance()
}

func (r *Room) advance() {
	r.timers.cancelQuestion()
	r.questionIndex++
	if r.questionIndex >= len(r.questions) {
		r.finish()
		return
	}
	r.beginQuestion()
}

func (r *Room) finish() {
	r.status = domain.StatusFinished
	r.finishedFlag.Store(true)
	r.timers.cancelAll()

	leaderboard := r.leaderboard()
	r.broadcast(protocol.TypeGameFinished, protocol.GameFinishedPayload{
		Leaderboard:     leaderboard,
		QuestionsPlayed: r.questionsPlayed(),
		QuestionCount:   len(r.questions),
	})
	r.broadcastState()
	r.logger.Info("game finished", "questionsPlayed", r.questionsPlayed(), "players", len(r.players))

	if r.sink != nil {
		summary := domain.GameSummary{
			Code:            r.code,
			WordClass:       r.pool.WordClass,
			QuestionsPlayed: r.questionsPlayed(),
			QuestionCount:   len(r.questions),
			Leaderboard:     leaderboard,
			FinishedAt:      r.now(),
		}
		// persistence happens off the worker goroutine; failures are logged,
		// never surfaced to clients
		go r.saveSummary(summary)
	}
}

func (r *Room) saveSummary(summary domain.GameSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkSaveTimeout)
	defer cancel()
	if err := r.sink.SaveSummary(ctx, summary); err != nil {
		r.logger.Error("save game summary failed", "error", err)
	}
}

func (r *Room) questionsPlayed() int {
	if r.questionIndex > len(r.questions) {
		return len(r.questions)
	}
	return r.questionIndex
}

func (r *Room) handleDisconnect(ev disconnectEvent) {
	if ev.connID == r.teacherConnID {
		// control commands are disabled until a replacement teacher joins
		r.teacherConnID = ""
		delete(r.senders, ev.connID)
		r.liveConns.Add(-1)
		r.broadcastState()
		r.logger.Info("teacher disconnected")
		return
	}
	playerID, ok := r.playersByConn[ev.connID]
	if !ok {
		return
	}
	delete(r.senders, ev.connID)
	delete(r.playersByConn, ev.connID)
	delete(r.connByPlayer, playerID)
	r.liveConns.Add(-1)
	if player := r.players[playerID]; player != nil {
		player.Connected = false
		r.logger.Info("player disconnected", "nickname", player.Nickname)
	}
	r.broadcastState()
}

func (r *Room) playerByNickname(nickname string) *domain.Player {
	for _, player := range r.players {
		if strings.EqualFold(player.Nickname, nickname) {
			return player
		}
	}
	return nil
}

func (r *Room) leaderboard() []domain.LeaderboardEntry {
	players := make([]*domain.Player, 0, len(r.players))
	for _, player := range r.players {
		players = append(players, player)
	}
	return Rank(players)
}

func (r *Room) state() protocol.RoomState {
	leaderboard := r.leaderboard()
	players := make([]protocol.PlayerState, len(leaderboard))
	for i, entry := range leaderboard {
		players[i] = protocol.PlayerState{
			ID:             entry.PlayerID,
			Nickname:       entry.Nickname,
			Score:          entry.Score,
			CorrectAnswers: entry.CorrectAnswers,
			Connected:      entry.Connected,
		}
	}

	var timeRemaining int64
	var questionNumber int
	switch r.status {
	case domain.StatusPlaying:
		if remaining := r.gameDeadline.Sub(r.now()); remaining > 0 {
			timeRemaining = int64(remaining / time.Second)
		}
		questionNumber = r.questionIndex + 1
	case domain.StatusFinished:
		questionNumber = r.questionsPlayed()
	}

	return protocol.RoomState{
		Code:                r.code,
		Status:              r.status,
		WordClass:           r.pool.WordClass,
		WordClassName:       r.pool.DisplayName,
		Players:             players,
		Leaderboard:         leaderboard,
		QuestionNumber:      questionNumber,
		QuestionCount:       len(r.questions),
		TimeRemaining:       timeRemaining,
		GameDurationSeconds: int(r.gameDuration / time.Second),
		HasTeacher:          r.teacherConnID != "",
		TeacherNickname:     r.teacherNickname,
	}
}

func (r *Room) broadcastState() {
	r.broadcast(protocol.TypeRoomUpdate, r.state())
}

func (r *Room) broadcast(t protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		r.logger.Error("encode broadcast failed", "type", t, "error", err)
		return
	}
	for connID, sender := range r.senders {
		if err := sender.Send(env); err != nil {
			r.logger.Debug("send failed", "conn", connID, "error", err)
		}
	}
}

func (r *Room) sendTo(connID string, t protocol.MessageType, payload any) {
	sender, ok := r.senders[connID]
	if !ok {
		return
	}
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		r.logger.Error("encode message failed", "type", t, "error", err)
		return
	}
	if err := sender.Send(env); err != nil {
		r.logger.Debug("send failed", "conn", connID, "error", err)
	}
}

func (r *Room) errTo(connID, code, message string) {
	r.sendTo(connID, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}
