package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"klasskamp-service/internal/domain"
)

// PoolRepository loads sentence pools (from cache/backing store).
type PoolRepository interface {
	GetPool(ctx context.Context, wordClass string) (domain.SentencePool, error)
}

// ResultSink receives final game summaries once a room finishes. Called off
// the room worker goroutine.
type ResultSink interface {
	SaveSummary(ctx context.Context, summary domain.GameSummary) error
}

// Service contains the room use cases consumed by the transport layer:
// creating rooms for a word class and resolving join codes.
type Service struct {
	registry  *Registry
	pools     PoolRepository
	settings  Settings
	sequencer *Sequencer
	sink      ResultSink
	logger    *slog.Logger
}

func NewService(registry *Registry, pools PoolRepository, settings Settings, sink ResultSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  registry,
		pools:     pools,
		settings:  settings,
		sequencer: NewSequencer(),
		sink:      sink,
		logger:    logger,
	}
}

// CreateRoomParams are the teacher-chosen knobs for a new room.
type CreateRoomParams struct {
	WordClass       string
	QuestionCount   int
	DurationSeconds int
}

// CreateRoom loads the sentence pool for the word class and registers a new
// room under a fresh join code.
func (s *Service) CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error) {
	pool, err := s.pools.GetPool(ctx, params.WordClass)
	if err != nil {
		return nil, fmt.Errorf("load sentence pool %q: %w", params.WordClass, err)
	}

	settings := s.settings
	if params.QuestionCount > 0 {
		settings.QuestionCount = params.QuestionCount
	}
	if params.DurationSeconds > 0 {
		settings.GameDuration = time.Duration(params.DurationSeconds) * time.Second
	}

	return s.registry.Create(func(code string) *Room {
		return newRoom(code, pool, settings, s.sequencer, s.sink, s.logger)
	})
}

// Room resolves a join code.
func (s *Service) Room(code string) (*Room, error) {
	return s.registry.Lookup(code)
}
