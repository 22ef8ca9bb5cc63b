package host

import (
	"log/slog"
	"sync"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Broker fans host commands out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the command.
type Broker struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	nextID int
	subs   map[int]chan model.HostCommand
}

// NewBroker creates a broker whose subscriber channels hold buffer commands.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		logger: logger.With("component", "broker"),
		buffer: buffer,
		subs:   make(map[int]chan model.HostCommand),
	}
}

// Subscribe registers a subscriber. The returned cancel function removes it
// and closes the channel.
func (b *Broker) Subscribe() (<-chan model.HostCommand, func()) {
	ch := make(chan model.HostCommand, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish implements Sink.
func (b *Broker) Publish(cmd model.HostCommand) {
	b.Deliver(cmd)
}

// Deliver publishes cmd and returns the number of subscribers that received it.
func (b *Broker) Deliver(cmd model.HostCommand) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, ch := range b.subs {
		select {
		case ch <- cmd:
			n++
		default:
			b.logger.Warn("subscriber buffer full, command dropped", "subscriber", id, "type", cmd.Type, "token", cmd.Token)
		}
	}
	return n
}
