package game

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"klasskamp-service/internal/domain"
)

// Presence mirrors room liveness into an external store (e.g. Redis) so
// operators can see which codes are active. Best effort: failures are logged
// and never block room lifecycle.
type Presence interface {
	MarkLive(ctx context.Context, code string) error
	Clear(ctx context.Context, code string) error
}

const (
	codeDigits       = 6
	maxCodeAttempts  = 32
	cleanupInterval  = 30 * time.Second
	presenceCallWait = 2 * time.Second
)

// Registry owns the code → room map: it allocates unique 6-digit join codes,
// resolves codes for incoming connections and retires finished or abandoned
// rooms after a grace period. Safe for concurrent use from many gateway
// connections.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	grace    time.Duration
	presence Presence
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry(grace time.Duration, presence Presence, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &Registry{
		rooms:    make(map[string]*Room),
		grace:    grace,
		presence: presence,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go reg.cleanupLoop()
	return reg
}

// Create allocates an unused code and installs the room built for it.
func (reg *Registry) Create(build func(code string) *Room) (*Room, error) {
	room, err := reg.install(build)
	if err != nil {
		return nil, err
	}
	// presence runs outside the lock so a slow store never blocks lookups
	reg.markLive(room.code)
	reg.logger.Info("room created", "code", room.code)
	return room, nil
}

func (reg *Registry) install(build func(code string) *Room) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if _, exists := reg.rooms[code]; exists {
			continue
		}
		room := build(code)
		reg.rooms[code] = room
		return room, nil
	}
	return nil, fmt.Errorf("could not allocate a unique room code after %d attempts", maxCodeAttempts)
}

// Lookup resolves a join code to its live room.
func (reg *Registry) Lookup(code string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Retire stops a room and removes its code. Safe to call for unknown codes.
func (reg *Registry) Retire(code string) {
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if ok {
		room.close()
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}
	reg.clearLive(code)
	reg.logger.Info("room retired", "code", code)
}

// Len reports the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Close stops the cleanup loop and every live room.
func (reg *Registry) Close() {
	reg.closeOnce.Do(func() {
		close(reg.done)
	})
	reg.mu.Lock()
	codes := make([]string, 0, len(reg.rooms))
	for code, room := range reg.rooms {
		room.close()
		codes = append(codes, code)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()
	for _, code := range codes {
		reg.clearLive(code)
	}
}

func (reg *Registry) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.done:
			return
		case <-ticker.C:
			reg.sweep()
		}
	}
}

func (reg *Registry) sweep() {
	now := time.Now()

	reg.mu.RLock()
	var stale []string
	for code, room := range reg.rooms {
		if room.retirable(now, reg.grace) {
			stale = append(stale, code)
		}
	}
	reg.mu.RUnlock()

	for _, code := range stale {
		reg.Retire(code)
	}
}

func (reg *Registry) markLive(code string) {
	if reg.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceCallWait)
	defer cancel()
	if err := reg.presence.MarkLive(ctx, code); err != nil {
		reg.logger.Debug("presence mark failed", "code", code, "error", err)
	}
}

func (reg *Registry) clearLive(code string) {
	if reg.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceCallWait)
	defer cancel()
	if err := reg.presence.Clear(ctx, code); err != nil {
		reg.logger.Debug("presence clear failed", "code", code, "error", err)
	}
}

// generateCode draws a random 6-decimal-digit code. Collisions against live
// rooms are handled by the caller's retry loop.
func generateCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(buf[:]) % 1_000_000
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
