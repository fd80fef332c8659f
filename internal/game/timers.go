package game

import (
	"sync"
	"time"
)

// timerSet owns a room's one-shot game and question timers. Firing never
// mutates room state directly: the callback enqueues an event into the room's
// queue together with a generation number, and the room ignores generations
// that were superseded before the fire was processed. cancelAll is idempotent
// so a timer racing a transition to finished is a no-op.
type timerSet struct {
	mu          sync.Mutex
	game        *time.Timer
	question    *time.Timer
	gameGen     uint64
	questionGen uint64
}

func (t *timerSet) startGame(d time.Duration, fire func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.game != nil {
		t.game.Stop()
	}
	t.gameGen++
	gen := t.gameGen
	t.game = time.AfterFunc(d, func() { fire(gen) })
	return gen
}

func (t *timerSet) startQuestion(d time.Duration, fire func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.question != nil {
		t.question.Stop()
	}
	t.questionGen++
	gen := t.questionGen
	t.question = time.AfterFunc(d, func() { fire(gen) })
	return gen
}

// cancelQuestion stops the question timer and invalidates its generation so
// an already-queued expiry event is discarded.
func (t *timerSet) cancelQuestion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.question != nil {
		t.question.Stop()
		t.question = nil
	}
	t.questionGen++
}

func (t *timerSet) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.game != nil {
		t.game.Stop()
		t.game = nil
	}
	if t.question != nil {
		t.question.Stop()
		t.question = nil
	}
	t.gameGen++
	t.questionGen++
}
