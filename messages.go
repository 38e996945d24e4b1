package lazycord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// HistoryFetcher loads a channel's message history.
type HistoryFetcher interface {
	ChannelMessages(ctx context.Context, channelID string) ([]ChatMessage, error)
}

// Publisher hands commands to the broker.
type Publisher interface {
	Publish(destination string, body []byte, header map[string]string) error
}

// MessageState is a snapshot of the message store.
type MessageState struct {
	ChannelID string
	Messages  []ChatMessage
	Loading   bool
}

// MessageStore caches the selected channel's messages. Entries are unique by
// ID and ordered by (CreatedAt, ID) after every history load; realtime
// messages are appended in arrival order.
//
// Mutating methods are meant to be called on the event loop. Readers may call
// the accessors from any goroutine.
type MessageStore struct {
	loop         *EventLoop
	history      HistoryFetcher
	publisher    Publisher
	topics       Topics
	limiter      *rate.Limiter
	fetchTimeout time.Duration
	log          *slog.Logger
	metrics      *Metrics

	mu        sync.RWMutex
	channelID string
	selection uint64
	loading   bool
	messages  []ChatMessage
	index     map[string]int

	changes observers[MessageState]
}

// NewMessageStore creates an empty store. A zero config.SendRate disables
// the send limit.
func NewMessageStore(loop *EventLoop, history HistoryFetcher, publisher Publisher, config RealtimeConfig, log *slog.Logger, metrics *Metrics) *MessageStore {
	config.defaults()
	if log == nil {
		log = slog.Default()
	}
	s := &MessageStore{
		loop:         loop,
		history:      history,
		publisher:    publisher,
		topics:       config.Topics,
		fetchTimeout: 30 * time.Second,
		log:          log.With("component", "messages"),
		metrics:      metrics,
		index:        make(map[string]int),
	}
	if config.SendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.SendRate), config.SendBurst)
	}
	return s
}

// OnChange registers fn for every change. fn runs on the event loop.
func (s *MessageStore) OnChange(fn func(MessageState)) (cancel func()) {
	return s.changes.add(fn)
}

// Messages returns a copy of the cached messages.
func (s *MessageStore) Messages() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatMessage(nil), s.messages...)
}

// Channel returns the selected channel id, or "".
func (s *MessageStore) Channel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelID
}

// Loading reports whether a history fetch for the selection is outstanding.
func (s *MessageStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *MessageStore) snapshotLocked() MessageState {
	return MessageState{
		ChannelID: s.channelID,
		Messages:  append([]ChatMessage(nil), s.messages...),
		Loading:   s.loading,
	}
}

// Select makes channelID the active channel, clears the cache and starts an
// asynchronous history fetch. The fetch result is applied on the event loop
// only if the selection has not changed since. An empty id deselects.
func (s *MessageStore) Select(channelID string) {
	s.mu.Lock()
	s.selection++
	token := s.selection
	s.channelID = channelID
	s.messages = nil
	s.index = make(map[string]int)
	s.loading = channelID != ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
	if channelID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		msgs, err := s.history.ChannelMessages(ctx, channelID)
		cancel()
		if perr := s.loop.Post(func() { s.applyHistory(token, channelID, msgs, err) }); perr != nil {
			s.log.Debug("history result dropped", "channel", channelID, "error", perr)
		}
	}()
}

func (s *MessageStore) applyHistory(token uint64, channelID string, history []ChatMessage, fetchErr error) {
	s.mu.Lock()
	if token != s.selection {
		s.mu.Unlock()
		s.metrics.staleHistory()
		s.log.Debug("stale history discarded", "channel", channelID)
		return
	}
	s.loading = false
	if fetchErr != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.log.Warn("history fetch failed", "channel", channelID, "error", fetchErr)
		s.changes.emit(s.log, snap)
		return
	}

	merged := make([]ChatMessage, 0, len(history)+len(s.messages))
	seen := make(map[string]int, len(history)+len(s.messages))
	for _, m := range history {
		if i, ok := seen[m.ID]; ok {
			merged[i] = m
			continue
		}
		seen[m.ID] = len(merged)
		merged = append(merged, m)
	}
	// Realtime messages that arrived while the fetch was in flight.
	for _, m := range s.messages {
		if i, ok := seen[m.ID]; ok {
			if m.Edited {
				merged[i] = m
			}
			continue
		}
		seen[m.ID] = len(merged)
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })

	s.messages = merged
	s.reindexLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
}

func (s *MessageStore) reindexLocked() {
	s.index = make(map[string]int, len(s.messages))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

// AppendIncoming adds a realtime message. Known IDs are dropped unless the
// message is an edit, which replaces the cached entry in place. Messages for
// a channel other than the selected one are dropped. It reports whether the
// cache changed.
func (s *MessageStore) AppendIncoming(msg ChatMessage) bool {
	s.mu.Lock()
	if s.channelID == "" || (msg.ChannelID != "" && msg.ChannelID != s.channelID) {
		s.mu.Unlock()
		s.log.Debug("message for inactive channel dropped", "channel", msg.ChannelID, "id", msg.ID)
		return false
	}
	if i, ok := s.index[msg.ID]; ok {
		if !msg.Edited {
			s.mu.Unlock()
			s.metrics.duplicate()
			return false
		}
		s.messages[i] = msg
	} else {
		s.index[msg.ID] = len(s.messages)
		s.messages = append(s.messages, msg)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
	return true
}

// Send publishes a text message to the selected channel. Nothing is appended
// locally; the message shows up when the broker echoes it back. Blank content
// is ignored.
func (s *MessageStore) Send(content string) error {
	channelID := s.Channel()
	if channelID == "" {
		return ErrNoActiveChannel
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var reservation *rate.Reservation
	if s.limiter != nil {
		reservation = s.limiter.Reserve()
		if !reservation.OK() || reservation.Delay() > 0 {
			reservation.Cancel()
			s.metrics.publishDropped("rate_limited")
			return ErrRateLimited
		}
	}

	body, err := json.Marshal(SendCommand{ChannelID: channelID, Content: content, Type: MessageText})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	header := map[string]string{
		"content-type": "application/json",
		"client-id":    uuid.NewString(),
	}
	if err := s.publisher.Publish(s.topics.Send, body, header); err != nil {
		if reservation != nil {
			reservation.Cancel()
		}
		return err
	}
	return nil
}
