package lazycord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// API is the REST surface the realtime core depends on. *Client implements it.
type API interface {
	HistoryFetcher
	NotificationAPI
	Channels(ctx context.Context) ([]Channel, error)
}

type chatOptions struct {
	log       *slog.Logger
	transport Transport
	config    RealtimeConfig
	metrics   *Metrics
}

type ChatOption func(*chatOptions)

func WithLogger(log *slog.Logger) ChatOption {
	return func(o *chatOptions) { o.log = log }
}

// WithTransport replaces the STOMP transport.
func WithTransport(t Transport) ChatOption {
	return func(o *chatOptions) { o.transport = t }
}

func WithRealtimeConfig(config RealtimeConfig) ChatOption {
	return func(o *chatOptions) { o.config = config }
}

func WithMetrics(m *Metrics) ChatOption {
	return func(o *chatOptions) { o.metrics = m }
}

// Chat wires the connection manager, subscription registry, stores and
// dispatcher around one event loop.
type Chat struct {
	api     API
	config  RealtimeConfig
	log     *slog.Logger
	loop    *EventLoop
	conn    *ConnectionManager
	subs    *SubscriptionRegistry
	msgs    *MessageStore
	notifs  *NotificationStore
	disp    *Dispatcher
	metrics *Metrics

	mu       sync.RWMutex
	channels []Channel
	chanObs  observers[[]Channel]
}

// NewChat creates a chat client. Nothing touches the network until Start.
func NewChat(api API, session SessionProvider, opts ...ChatOption) *Chat {
	o := chatOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.config.defaults()
	if o.transport == nil {
		o.transport = NewStompTransport(o.config.URL, o.config.HeartbeatInterval)
	}

	c := &Chat{
		api:     api,
		config:  o.config,
		log:     o.log,
		metrics: o.metrics,
	}
	c.loop = NewEventLoop(0, o.log)
	c.subs = NewSubscriptionRegistry(o.config.Topics, c.loop, func(kind FrameKind, f Frame) {
		c.disp.Handle(kind, f)
	}, o.log)
	c.conn = NewConnectionManager(o.transport, session, c.subs, c.loop, o.config, o.log, o.metrics)
	c.msgs = NewMessageStore(c.loop, api, c.conn, o.config, o.log, o.metrics)
	c.notifs = NewNotificationStore(c.loop, api, o.log, o.metrics)
	c.disp = NewDispatcher(c.msgs, c.notifs, o.log, o.metrics)
	return c
}

func (c *Chat) Connection() *ConnectionManager       { return c.conn }
func (c *Chat) Messages() *MessageStore              { return c.msgs }
func (c *Chat) Notifications() *NotificationStore    { return c.notifs }
func (c *Chat) Subscriptions() *SubscriptionRegistry { return c.subs }

// Start runs the event loop and connects. Only a rejected credential is
// returned as an error; other failures are retried in the background.
func (c *Chat) Start(ctx context.Context) error {
	c.loop.Start()
	err := c.conn.Connect(ctx)
	if errors.Is(err, ErrUnauthorized) {
		return err
	}
	if err != nil {
		c.log.Warn("initial connect failed, retrying", "error", err)
	}
	return nil
}

// Close disconnects and stops the event loop.
func (c *Chat) Close() error {
	err := c.conn.Close()
	c.loop.Stop()
	return err
}

func (c *Chat) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

func (c *Chat) Disconnect() error { return c.conn.Disconnect() }

// ============================================================================
// Channels
// ============================================================================

// LoadChannels fetches the channel list and replaces the cached one.
func (c *Chat) LoadChannels(ctx context.Context) ([]Channel, error) {
	channels, err := c.api.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	err = c.loop.Do(ctx, func() {
		c.mu.Lock()
		c.channels = append([]Channel(nil), channels...)
		snap := append([]Channel(nil), c.channels...)
		c.mu.Unlock()
		c.chanObs.emit(c.log, snap)
	})
	return channels, err
}

// Channels returns the cached channel list.
func (c *Chat) Channels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Channel(nil), c.channels...)
}

// OnChannelsChange registers fn for channel list reloads. fn runs on the event loop.
func (c *Chat) OnChannelsChange(fn func([]Channel)) (cancel func()) {
	return c.chanObs.add(fn)
}

// SelectChannel subscribes to channelID and then switches the message store
// to it. If the subscription cannot be made the previous selection stays in
// place and the error is returned.
func (c *Chat) SelectChannel(ctx context.Context, channelID string) error {
	if channelID == "" {
		return c.DeselectChannel(ctx)
	}
	if err := c.subs.SubscribeChannel(channelID); err != nil {
		return fmt.Errorf("select channel %s: %w", channelID, err)
	}
	if c.msgs.Channel() == channelID {
		return nil
	}
	return c.loop.Do(ctx, func() { c.msgs.Select(channelID) })
}

// DeselectChannel drops the chat subscription and clears the message store.
func (c *Chat) DeselectChannel(ctx context.Context) error {
	c.subs.UnsubscribeChannel()
	return c.loop.Do(ctx, func() { c.msgs.Select("") })
}

// Send publishes content to the selected channel.
func (c *Chat) Send(content string) error {
	return c.msgs.Send(content)
}

// JoinChannel announces membership of channelID to the broker.
func (c *Chat) JoinChannel(channelID string) error {
	return c.conn.Publish(c.config.Topics.Join, []byte(channelID), map[string]string{"content-type": "text/plain"})
}

// LeaveChannel announces leaving channelID to the broker.
func (c *Chat) LeaveChannel(channelID string) error {
	return c.conn.Publish(c.config.Topics.Leave, []byte(channelID), map[string]string{"content-type": "text/plain"})
}

// ============================================================================
// Notifications
// ============================================================================

// RefreshNotifications reloads the notification feed and unread count.
func (c *Chat) RefreshNotifications(ctx context.Context) error {
	return c.notifs.Refresh(ctx)
}

// MarkNotificationRead marks one notification read on the event loop.
func (c *Chat) MarkNotificationRead(ctx context.Context, id string) error {
	return c.loop.Do(ctx, func() { c.notifs.MarkAsRead(id) })
}

// MarkAllNotificationsRead marks every notification read on the event loop.
func (c *Chat) MarkAllNotificationsRead(ctx context.Context) error {
	return c.loop.Do(ctx, c.notifs.MarkAllAsRead)
}
