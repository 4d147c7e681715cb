package bot

import (
	"context"

	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
)

const controlQueueSize = 64

// controlQueue hands speaking and disconnect events to the session on its own
// goroutine, in arrival order, so the voice gateway never waits on a transcoder
// spawn or a metadata write.
type controlQueue struct {
	handler recordsessions.AudioHandler
	events  chan recordsessions.Event
}

func newControlQueue(handler recordsessions.AudioHandler, size int) *controlQueue {
	return &controlQueue{
		handler: handler,
		events:  make(chan recordsessions.Event, size),
	}
}

// Push waits only while the queue is full. It reports false once ctx is done.
func (q *controlQueue) Push(ctx context.Context, event recordsessions.Event) bool {
	select {
	case q.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *controlQueue) Run(ctx context.Context) {
	for {
		select {
		case event := <-q.events:
			q.handler.HandleAudio(ctx, event)

		case <-ctx.Done():
			return
		}
	}
}
