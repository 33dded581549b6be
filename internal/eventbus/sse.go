package eventbus

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/donovanhide/eventsource"
)

// sseMessage adapts an Event to eventsource.Event (data/ id/ event framing,
// §4.6 / §6's GET /api/events).
type sseMessage struct {
	id   string
	data string
	kind string
}

func (m sseMessage) Id() string    { return m.id }
func (m sseMessage) Event() string  { return m.kind }
func (m sseMessage) Data() string   { return m.data }

// SSERepository feeds eventsource.Server from the Bus. It implements
// eventsource.Repository with an empty Replay for every last-event id (this
// is a live tail, not a durable log); Stream holds a single Bus
// subscription and publishes each event to all clients of the channel.
type SSERepository struct {
	bus *Bus
	seq int64
}

// NewSSERepository wraps bus for use with eventsource.NewServer.
func NewSSERepository(bus *Bus) *SSERepository {
	return &SSERepository{bus: bus}
}

// Replay satisfies eventsource.Repository; this feed has no durable
// backlog; channel-specific replay isn't supported, so it is a no-op.
func (r *SSERepository) Replay(channel, id string) chan eventsource.Event {
	out := make(chan eventsource.Event)
	close(out)
	return out
}

// Stream starts forwarding bus events to an eventsource.Server channel
// named "orbis" until stop is closed.
func (r *SSERepository) Stream(srv *eventsource.Server, stop <-chan struct{}) {
	ch, unsubscribe := r.bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			id := strconv.FormatInt(atomic.AddInt64(&r.seq, 1), 10)
			srv.Publish([]string{"orbis"}, sseMessage{id: id, kind: string(ev.Type), data: string(data)})
		}
	}
}
