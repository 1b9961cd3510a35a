package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"stakevault/core/events"
)

const eventHistoryLimit = 2048

// EventUpdate is a committed ledger event decorated with a replay cursor.
type EventUpdate struct {
	Sequence   uint64
	Cursor     string
	Type       string
	Attributes map[string]string
	Timestamp  int64
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if len(update.Attributes) > 0 {
		attrs := make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

func (l *Ledger) publishUpdate(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	update := EventUpdate{Type: evt.EventType(), Timestamp: l.nowFn()}
	if payload, ok := evt.(eventWithPayload); ok {
		if event := payload.Event(); event != nil {
			update.Type = event.Type
			update.Attributes = event.CloneAttributes()
		}
	}

	l.streamMu.Lock()
	if l.streamSubs == nil {
		l.streamSubs = make(map[uint64]chan EventUpdate)
	}
	l.streamSeq++
	update.Sequence = l.streamSeq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	l.streamHistory = append(l.streamHistory, cloneEventUpdate(update))
	if len(l.streamHistory) > eventHistoryLimit {
		excess := len(l.streamHistory) - eventHistoryLimit
		trimmed := make([]EventUpdate, eventHistoryLimit)
		copy(trimmed, l.streamHistory[excess:])
		l.streamHistory = trimmed
	}
	subscribers := make([]chan EventUpdate, 0, len(l.streamSubs))
	for _, ch := range l.streamSubs {
		subscribers = append(subscribers, ch)
	}
	l.streamMu.Unlock()

	broadcast := cloneEventUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
		}
	}
}

// SubscribeEvents registers a subscriber for committed ledger events starting
// after the supplied cursor. The returned backlog replays retained history;
// slow subscribers miss updates rather than block the ledger.
func (l *Ledger) SubscribeEvents(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if l == nil {
		return nil, nil, nil, fmt.Errorf("ledger not initialised")
	}
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	l.streamMu.Lock()
	if l.streamSubs == nil {
		l.streamSubs = make(map[uint64]chan EventUpdate)
	}
	id := l.streamNextID
	l.streamNextID++
	l.streamSubs[id] = updates
	history := make([]EventUpdate, len(l.streamHistory))
	copy(history, l.streamHistory)
	l.streamMu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.streamMu.Lock()
			sub, ok := l.streamSubs[id]
			if ok {
				delete(l.streamSubs, id)
				close(sub)
			}
			l.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
