package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"klasskamp-service/internal/domain"
)

func buildTestRoom(code string) *Room {
	return newRoom(code, verbPool(), DefaultSettings(), NewSequencerWithRand(rand.New(rand.NewSource(1))), nil, testLogger())
}

func TestRegistryCreateAndLookup(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, testLogger())
	defer reg.Close()

	room, err := reg.Create(buildTestRoom)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	code := room.Code()
	if len(code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("code contains non-digit: %q", code)
		}
	}

	got, err := reg.Lookup(code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != room {
		t.Fatal("lookup returned a different room")
	}
}

func TestRegistryLookupUnknownCode(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, testLogger())
	defer reg.Close()

	if _, err := reg.Lookup("000000"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistryCodesAreUnique(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, testLogger())
	defer reg.Close()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		room, err := reg.Create(buildTestRoom)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[room.Code()] {
			t.Fatalf("duplicate code %s", room.Code())
		}
		seen[room.Code()] = true
	}
	if reg.Len() != 50 {
		t.Fatalf("expected 50 live rooms, got %d", reg.Len())
	}
}

func TestRegistryRetire(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, testLogger())
	defer reg.Close()

	room, err := reg.Create(buildTestRoom)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reg.Retire(room.Code())

	if _, err := reg.Lookup(room.Code()); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after retire, got %v", err)
	}
	// retired rooms are closed
	if _, err := room.Snapshot(); !errors.Is(err, domain.ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
	// retiring an unknown code is a no-op
	reg.Retire("999999")
}

func TestRegistrySweepRetiresAbandonedRooms(t *testing.T) {
	reg := NewRegistry(10*time.Millisecond, nil, testLogger())
	defer reg.Close()

	room, err := reg.Create(buildTestRoom)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// no connections ever attached; once past the grace period a sweep
	// must pick the room up
	time.Sleep(30 * time.Millisecond)
	reg.sweep()

	if _, err := reg.Lookup(room.Code()); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected abandoned room to be swept, got %v", err)
	}
}

func TestRegistrySweepKeepsActiveRooms(t *testing.T) {
	reg := NewRegistry(10*time.Millisecond, nil, testLogger())
	defer reg.Close()

	room, err := reg.Create(buildTestRoom)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := room.Join("conn-t", "Fru Larsson", true, newFakeSender()); err != nil {
		t.Fatalf("join: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	// keep the room warm right before the sweep
	if _, err := room.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	reg.sweep()

	if _, err := reg.Lookup(room.Code()); err != nil {
		t.Fatalf("active room must survive the sweep: %v", err)
	}
}

type blockingPresence struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPresence) MarkLive(ctx context.Context, code string) error {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

func (p *blockingPresence) Clear(ctx context.Context, code string) error { return nil }

func TestRegistryLookupNotBlockedByPresence(t *testing.T) {
	presence := &blockingPresence{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	reg := NewRegistry(time.Hour, presence, testLogger())
	defer reg.Close()

	created := make(chan *Room, 1)
	go func() {
		room, err := reg.Create(buildTestRoom)
		if err != nil {
			t.Errorf("create: %v", err)
		}
		created <- room
	}()
	<-presence.started

	// the presence call is in flight; lookups must not queue behind it
	lookupDone := make(chan error, 1)
	go func() {
		_, err := reg.Lookup("000000")
		lookupDone <- err
	}()
	select {
	case err := <-lookupDone:
		if !errors.Is(err, domain.ErrRoomNotFound) {
			t.Fatalf("expected ErrRoomNotFound, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lookup blocked behind the presence call")
	}

	close(presence.release)
	room := <-created
	if _, err := reg.Lookup(room.Code()); err != nil {
		t.Fatalf("lookup created room: %v", err)
	}
}

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
	}
}
