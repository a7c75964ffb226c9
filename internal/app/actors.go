package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomActor struct {
	jobs chan func()
	refs int
}

func (a *roomActor) run() {
	for job := range a.jobs {
		job()
	}
}

// RoomActors runs membership mutations for one room strictly one at a time.
// An actor goroutine lives while at least one caller holds a reference and
// stops once the room goes idle.
type RoomActors struct {
	mu     sync.Mutex
	actors map[domain.RoomID]*roomActor
}

func NewRoomActors() *RoomActors {
	return &RoomActors{actors: make(map[domain.RoomID]*roomActor)}
}

// Do queues fn on the room's actor and waits for its result.
func (r *RoomActors) Do(ctx context.Context, room domain.RoomID, fn func(ctx context.Context) error) error {
	act := r.acquire(room)
	defer r.release(room, act)

	done := make(chan error, 1)
	job := func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("module", "app.actors").Str("room", string(room)).Interface("panic", p).Msg("room job panicked")
				done <- fmt.Errorf("room %s: job panicked: %v", room, p)
			}
		}()
		done <- fn(ctx)
	}

	select {
	case act.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-done
}

// Active reports how many rooms currently have a running actor.
func (r *RoomActors) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

func (r *RoomActors) acquire(room domain.RoomID) *roomActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	act, ok := r.actors[room]
	if !ok {
		act = &roomActor{jobs: make(chan func())}
		r.actors[room] = act
		go act.run()
	}
	act.refs++
	return act
}

func (r *RoomActors) release(room domain.RoomID, act *roomActor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	act.refs--
	if act.refs == 0 {
		delete(r.actors, room)
		close(act.jobs)
	}
}
