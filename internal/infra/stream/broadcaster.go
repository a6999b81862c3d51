// Package stream fans pipeline events out to every live subscriber of a
// conversation.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/infra/metrics"
)

// outboundBufferSize is the per-connection event buffer. A connection whose
// sink stalls past this many undelivered events starts losing events (loudly,
// never silently) instead of stalling its siblings.
const outboundBufferSize = 256

// EmitFunc delivers one stamped event to a single subscriber. The sink is
// owned by the transport; the broadcaster only calls it and stops calling it
// after removal. An error return is logged and counted, nothing more.
type EmitFunc func(model.EventEnvelope) error

type connection struct {
	id     string
	userID string
	out    chan model.EventEnvelope
	done   chan struct{}
}

// convEntry serializes emission and structural changes for one conversation
// so all its connections observe events in the same relative order, while
// unrelated conversations proceed in parallel.
type convEntry struct {
	mu    sync.Mutex
	conns []*connection // registry iteration order = insertion order
}

// Broadcaster is the connection registry and fan-out engine. It stamps each
// event with the conversation id and emission time, and delivers it to every
// registered connection through a dedicated writer goroutine per connection.
type Broadcaster struct {
	mu            sync.RWMutex
	conversations map[string]*convEntry
	log           *zerolog.Logger
}

func NewBroadcaster(log *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		conversations: make(map[string]*convEntry),
		log:           log,
	}
}

// AddConnection registers a subscriber. Multiple connections may share a
// conversation and a user (multiple tabs). Re-adding an existing connection
// id replaces the previous sink.
func (b *Broadcaster) AddConnection(conversationID, userID, connectionID string, emit EmitFunc) {
	c := &connection{
		id:     connectionID,
		userID: userID,
		out:    make(chan model.EventEnvelope, outboundBufferSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	entry, ok := b.conversations[conversationID]
	if !ok {
		entry = &convEntry{}
		b.conversations[conversationID] = entry
	}
	entry.mu.Lock()
	for i, old := range entry.conns {
		if old.id == connectionID {
			close(old.done)
			entry.conns = append(entry.conns[:i], entry.conns[i+1:]...)
			break
		}
	}
	entry.conns = append(entry.conns, c)
	entry.mu.Unlock()
	b.mu.Unlock()

	go b.writer(conversationID, c, emit)

	metrics.SetStreamConnections(b.ConnectionCount())
	b.log.Debug().
		Str("conversation_id", conversationID).
		Str("connection_id", connectionID).
		Str("user_id", userID).
		Msg("connection added")
}

// writer drains one connection's outbound queue. A failing sink is logged
// and kept: removal happens only on explicit disconnect signals.
func (b *Broadcaster) writer(conversationID string, c *connection, emit EmitFunc) {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.out:
			if err := emit(env); err != nil {
				metrics.IncStreamSinkError()
				b.log.Warn().Err(err).
					Str("conversation_id", conversationID).
					Str("connection_id", c.id).
					Str("event_type", env.Type).
					Msg("event delivery failed")
			}
		}
	}
}

// RemoveConnection unregisters one connection. Removing an unknown id is a
// silent no-op; removing the last connection of a conversation deletes the
// conversation's registry entry entirely.
func (b *Broadcaster) RemoveConnection(conversationID, connectionID string) {
	b.mu.Lock()
	entry, ok := b.conversations[conversationID]
	if !ok {
		b.mu.Unlock()
		return
	}
	entry.mu.Lock()
	for i, c := range entry.conns {
		if c.id == connectionID {
			close(c.done)
			entry.conns = append(entry.conns[:i], entry.conns[i+1:]...)
			break
		}
	}
	empty := len(entry.conns) == 0
	entry.mu.Unlock()
	if empty {
		delete(b.conversations, conversationID)
	}
	b.mu.Unlock()

	metrics.SetStreamConnections(b.ConnectionCount())
	b.log.Debug().
		Str("conversation_id", conversationID).
		Str("connection_id", connectionID).
		Msg("connection removed")
}

// CleanupConversation drops every connection of a conversation, e.g. when
// the conversation itself is deleted. Idempotent.
func (b *Broadcaster) CleanupConversation(conversationID string) {
	b.mu.Lock()
	entry, ok := b.conversations[conversationID]
	if ok {
		entry.mu.Lock()
		for _, c := range entry.conns {
			close(c.done)
		}
		entry.conns = nil
		entry.mu.Unlock()
		delete(b.conversations, conversationID)
	}
	b.mu.Unlock()

	if ok {
		metrics.SetStreamConnections(b.ConnectionCount())
		b.log.Debug().Str("conversation_id", conversationID).Msg("conversation connections cleaned up")
	}
}

// EmitToConversation stamps the event and queues it for every connection
// currently registered on the conversation, in registry order. Never blocks
// on a slow sink and never raises a delivery failure to the caller.
func (b *Broadcaster) EmitToConversation(conversationID string, event model.StreamEvent) {
	b.emit(conversationID, "", event)
}

// EmitToUser is EmitToConversation restricted to connections registered by
// one user. A no-op when the user has no connection on the conversation.
func (b *Broadcaster) EmitToUser(conversationID, userID string, event model.StreamEvent) {
	b.emit(conversationID, userID, event)
}

func (b *Broadcaster) emit(conversationID, onlyUserID string, event model.StreamEvent) {
	b.mu.RLock()
	entry, ok := b.conversations[conversationID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	env := model.EventEnvelope{
		Type:           event.EventType(),
		Data:           event,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
	metrics.IncStreamEvent(env.Type)

	// Holding entry.mu across the enqueue loop is what gives every
	// connection the same relative event order for this conversation.
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, c := range entry.conns {
		if onlyUserID != "" && c.userID != onlyUserID {
			continue
		}
		select {
		case c.out <- env:
		default:
			metrics.IncStreamDrop()
			b.log.Warn().
				Str("conversation_id", conversationID).
				Str("connection_id", c.id).
				Str("event_type", env.Type).
				Msg("outbound buffer full, event dropped for connection")
		}
	}
}

// GetConversationConnectionCount reports the live connection count for one
// conversation.
func (b *Broadcaster) GetConversationConnectionCount(conversationID string) int {
	b.mu.RLock()
	entry, ok := b.conversations[conversationID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.conns)
}

// ConnectionCount reports the total number of live connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, entry := range b.conversations {
		entry.mu.Lock()
		total += len(entry.conns)
		entry.mu.Unlock()
	}
	return total
}
