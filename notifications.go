package lazycord

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NotificationAPI is the REST side of the notification feed.
type NotificationAPI interface {
	Notifications(ctx context.Context, page, size int) ([]Notification, error)
	UnreadNotificationCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// NotificationState is a snapshot of the notification store.
type NotificationState struct {
	Items  []Notification
	Unread int
}

// NotificationStore holds the notification feed, most recent first, and the
// unread counter.
//
// Read state is optimistic. MarkAsRead and MarkAllAsRead update the local
// state at once and acknowledge to the server in the background; a failed
// acknowledgement is logged and never rolled back. The server's count topic,
// applied through SetUnreadCount, is the authority and eventually corrects
// any drift.
type NotificationStore struct {
	loop       *EventLoop
	api        NotificationAPI
	ackTimeout time.Duration
	pageSize   int
	log        *slog.Logger
	metrics    *Metrics

	mu     sync.RWMutex
	items  []Notification
	unread int

	changes observers[NotificationState]
}

// NewNotificationStore creates an empty store.
func NewNotificationStore(loop *EventLoop, api NotificationAPI, log *slog.Logger, metrics *Metrics) *NotificationStore {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationStore{
		loop:       loop,
		api:        api,
		ackTimeout: 10 * time.Second,
		pageSize:   20,
		log:        log.With("component", "notifications"),
		metrics:    metrics,
	}
}

// OnChange registers fn for every change. fn runs on the event loop.
func (s *NotificationStore) OnChange(fn func(NotificationState)) (cancel func()) {
	return s.changes.add(fn)
}

// Notifications returns a copy of the feed.
func (s *NotificationStore) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification(nil), s.items...)
}

// UnreadCount returns the unread counter.
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *NotificationStore) snapshotLocked() NotificationState {
	return NotificationState{
		Items:  append([]Notification(nil), s.items...),
		Unread: s.unread,
	}
}

func (s *NotificationStore) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Add prepends a pushed notification and counts it when unread. A
// notification already in the feed is ignored.
func (s *NotificationStore) Add(n Notification) bool {
	s.mu.Lock()
	if s.indexLocked(n.ID) >= 0 {
		s.mu.Unlock()
		s.metrics.duplicate()
		return false
	}
	s.items = append([]Notification{n}, s.items...)
	if !n.Read {
		s.unread++
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
	return true
}

// MarkAsRead flips a notification to read and decrements the counter,
// floored at zero, then acknowledges in the background. Marking a read
// notification again changes nothing and sends nothing. An id not in the
// feed is still acknowledged.
func (s *NotificationStore) MarkAsRead(id string) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i >= 0 && s.items[i].Read {
		s.mu.Unlock()
		return
	}
	var snap *NotificationState
	if i >= 0 {
		s.items[i].Read = true
		if s.unread > 0 {
			s.unread--
		}
		st := s.snapshotLocked()
		snap = &st
	}
	s.mu.Unlock()

	if snap != nil {
		s.changes.emit(s.log, *snap)
	}
	s.acknowledge("mark read", func(ctx context.Context) error {
		return s.api.MarkNotificationRead(ctx, id)
	})
}

// MarkAllAsRead flips every notification to read, zeroes the counter and
// acknowledges in the background.
func (s *NotificationStore) MarkAllAsRead() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
	s.acknowledge("mark all read", s.api.MarkAllNotificationsRead)
}

// SetUnreadCount overrides the counter with the server's value. Negative
// values are clamped to zero.
func (s *NotificationStore) SetUnreadCount(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	if s.unread == n {
		s.mu.Unlock()
		return
	}
	s.unread = n
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
}

// Refresh refetches the first page of the feed and the unread count and
// replaces the local state with them on the event loop.
func (s *NotificationStore) Refresh(ctx context.Context) error {
	items, err := s.api.Notifications(ctx, 0, s.pageSize)
	if err != nil {
		return err
	}
	count, err := s.api.UnreadNotificationCount(ctx)
	if err != nil {
		return err
	}
	return s.loop.Do(ctx, func() { s.replace(items, count) })
}

func (s *NotificationStore) replace(items []Notification, unread int) {
	if unread < 0 {
		unread = 0
	}
	s.mu.Lock()
	s.items = append([]Notification(nil), items...)
	s.unread = unread
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.emit(s.log, snap)
}

func (s *NotificationStore) acknowledge(op string, call func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.ackTimeout)
		defer cancel()
		if err := call(ctx); err != nil {
			s.metrics.ackFailed()
			s.log.Warn("acknowledgement failed", "op", op, "error", err)
		}
	}()
}
