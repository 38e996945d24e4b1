package lazycord

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Topics names the broker destinations. "{channelId}" and "{userId}" are
// substituted where present.
type Topics struct {
	Channel       string `toml:"channel,omitempty"`
	Notifications string `toml:"notifications,omitempty"`
	UnreadCount   string `toml:"unread_count,omitempty"`
	Send          string `toml:"send,omitempty"`
	Join          string `toml:"join,omitempty"`
	Leave         string `toml:"leave,omitempty"`
}

// DefaultTopics returns the destinations used by the chat backend.
func DefaultTopics() Topics {
	return Topics{
		Channel:       "/topic/channel/{channelId}",
		Notifications: "/user/queue/notifications",
		UnreadCount:   "/user/queue/notifications/count",
		Send:          "/app/chat.send",
		Join:          "/app/chat.join",
		Leave:         "/app/chat.leave",
	}
}

func (t *Topics) defaults() {
	d := DefaultTopics()
	if t.Channel == "" {
		t.Channel = d.Channel
	}
	if t.Notifications == "" {
		t.Notifications = d.Notifications
	}
	if t.UnreadCount == "" {
		t.UnreadCount = d.UnreadCount
	}
	if t.Send == "" {
		t.Send = d.Send
	}
	if t.Join == "" {
		t.Join = d.Join
	}
	if t.Leave == "" {
		t.Leave = d.Leave
	}
}

// ChannelTopic returns the topic carrying messages for channelID.
func (t Topics) ChannelTopic(channelID string) string {
	return strings.ReplaceAll(t.Channel, "{channelId}", channelID)
}

func (t Topics) userTopic(topic, userID string) string {
	return strings.ReplaceAll(topic, "{userId}", userID)
}

// FrameKind tells the dispatcher which subscription a frame came from.
type FrameKind int

const (
	FrameChannel FrameKind = iota
	FrameNotification
	FrameUnreadCount
)

func (k FrameKind) String() string {
	switch k {
	case FrameChannel:
		return "channel"
	case FrameNotification:
		return "notification"
	case FrameUnreadCount:
		return "unread_count"
	default:
		return "unknown"
	}
}

// FrameHandler receives frames on the event loop.
type FrameHandler func(kind FrameKind, f Frame)

type registration struct {
	kind   FrameKind
	topic  string
	sub    BrokerSubscription
	active atomic.Bool
}

// SubscriptionRegistry tracks the chat-channel subscription and the
// notification subscription of the live connection. It remembers the
// selected channel across reconnects and restores it on Attach.
type SubscriptionRegistry struct {
	topics Topics
	loop   *EventLoop
	handle FrameHandler
	log    *slog.Logger

	mu        sync.Mutex
	conn      BrokerConn
	channelID string
	channel   *registration
	notify    []*registration
}

// NewSubscriptionRegistry creates a registry delivering frames to handle.
func NewSubscriptionRegistry(topics Topics, loop *EventLoop, handle FrameHandler, log *slog.Logger) *SubscriptionRegistry {
	topics.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &SubscriptionRegistry{
		topics: topics,
		loop:   loop,
		handle: handle,
		log:    log.With("component", "subscriptions"),
	}
}

// ChannelID returns the channel whose subscription is wanted, or "".
func (r *SubscriptionRegistry) ChannelID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelID
}

// SubscribeChannel switches the chat subscription to channelID. The previous
// channel is unsubscribed first. Subscribing the current channel again is a
// no-op. Without a live connection it fails with ErrNotConnected.
func (r *SubscriptionRegistry) SubscribeChannel(channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return ErrNotConnected
	}
	if r.channel != nil && r.channelID == channelID {
		return nil
	}

	prev := r.channelID
	r.dropChannelLocked()

	reg, err := r.subscribeLocked(FrameChannel, r.topics.ChannelTopic(channelID))
	if err != nil {
		// Keep the old interest so it is restored, now or on the next Attach.
		r.channelID = prev
		if prev != "" {
			if reg, rerr := r.subscribeLocked(FrameChannel, r.topics.ChannelTopic(prev)); rerr == nil {
				r.channel = reg
			}
		}
		return err
	}
	r.channelID = channelID
	r.channel = reg
	return nil
}

// UnsubscribeChannel drops the chat subscription and forgets the channel.
func (r *SubscriptionRegistry) UnsubscribeChannel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropChannelLocked()
	r.channelID = ""
}

// SubscribeNotifications subscribes the per-user notification and unread
// count topics. It happens at most once per connection; channel switches do
// not touch it.
func (r *SubscriptionRegistry) SubscribeNotifications(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return ErrNotConnected
	}
	if len(r.notify) > 0 {
		return nil
	}

	n, err := r.subscribeLocked(FrameNotification, r.topics.userTopic(r.topics.Notifications, userID))
	if err != nil {
		return err
	}
	r.notify = append(r.notify, n)

	c, err := r.subscribeLocked(FrameUnreadCount, r.topics.userTopic(r.topics.UnreadCount, userID))
	if err != nil {
		// Both or neither, so a later call subscribes the pair again.
		r.dropNotificationsLocked()
		return err
	}
	r.notify = append(r.notify, c)
	return nil
}

// Attach binds a freshly connected broker and restores the remembered
// channel subscription.
func (r *SubscriptionRegistry) Attach(conn BrokerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deactivateLocked()
	r.conn = conn
	if r.channelID == "" {
		return
	}
	reg, err := r.subscribeLocked(FrameChannel, r.topics.ChannelTopic(r.channelID))
	if err != nil {
		r.log.Warn("restoring channel subscription failed", "channel", r.channelID, "error", err)
		return
	}
	r.channel = reg
}

// Detach forgets the subscriptions of a connection that is gone. Nothing is
// sent to the broker. The selected channel is kept for the next Attach.
func (r *SubscriptionRegistry) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivateLocked()
	r.conn = nil
}

func (r *SubscriptionRegistry) deactivateLocked() {
	if r.channel != nil {
		r.channel.active.Store(false)
		r.channel = nil
	}
	for _, n := range r.notify {
		n.active.Store(false)
	}
	r.notify = nil
}

func (r *SubscriptionRegistry) dropNotificationsLocked() {
	for _, n := range r.notify {
		n.active.Store(false)
		if err := n.sub.Unsubscribe(); err != nil {
			r.log.Debug("unsubscribe failed", "topic", n.topic, "error", err)
		}
	}
	r.notify = nil
}

func (r *SubscriptionRegistry) dropChannelLocked() {
	if r.channel == nil {
		return
	}
	r.channel.active.Store(false)
	if err := r.channel.sub.Unsubscribe(); err != nil {
		r.log.Debug("unsubscribe failed", "topic", r.channel.topic, "error", err)
	}
	r.channel = nil
}

func (r *SubscriptionRegistry) subscribeLocked(kind FrameKind, topic string) (*registration, error) {
	reg := &registration{kind: kind, topic: topic}
	reg.active.Store(true)
	sub, err := r.conn.Subscribe(topic, func(f Frame) {
		if !reg.active.Load() {
			return
		}
		err := r.loop.Post(func() {
			// A frame still queued when its subscription is dropped is discarded.
			if reg.active.Load() {
				r.handle(kind, f)
			}
		})
		if err != nil {
			r.log.Debug("frame dropped", "topic", topic, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	reg.sub = sub
	r.log.Debug("subscribed", "topic", topic, "kind", kind)
	return reg, nil
}
