package lazycord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop := NewEventLoop(0, nil)
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop
}

// flush waits until everything posted so far has run.
func flush(t *testing.T, loop *EventLoop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Do(ctx, func() {}); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func onLoop(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Do(ctx, fn); err != nil {
		t.Fatalf("loop.Do: %v", err)
	}
}

func msgAt(id, channel string, sec int) ChatMessage {
	return ChatMessage{
		ID:        id,
		ChannelID: channel,
		SenderID:  "u1",
		Content:   "content " + id,
		Type:      MessageText,
		CreatedAt: At(time.Date(2025, 1, 1, 12, 0, sec, 0, time.UTC)),
	}
}

func ids(msgs []ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Fake broker connection
// ============================================================================

type publishedFrame struct {
	Destination string
	Body        []byte
	Header      map[string]string
}

type fakeConn struct {
	mu         sync.Mutex
	subs       map[string]func(Frame)
	events     []string
	published  []publishedFrame
	closed     bool
	failTopics map[string]error

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		subs:       make(map[string]func(Frame)),
		failTopics: make(map[string]error),
		done:       make(chan struct{}),
	}
}

func (c *fakeConn) Subscribe(topic string, deliver func(Frame)) (BrokerSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failTopics[topic]; err != nil {
		return nil, err
	}
	c.subs[topic] = deliver
	c.events = append(c.events, "sub:"+topic)
	return &fakeSub{conn: c, topic: topic}, nil
}

func (c *fakeConn) Publish(destination string, body []byte, header map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.published = append(c.published, publishedFrame{destination, body, header})
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// drop simulates an abrupt end of the connection.
func (c *fakeConn) drop() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = errors.New("connection reset")
		c.mu.Unlock()
		close(c.done)
	})
}

// push delivers a frame on topic as the broker would.
func (c *fakeConn) push(topic, body string) bool {
	c.mu.Lock()
	deliver := c.subs[topic]
	c.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(Frame{Topic: topic, Body: []byte(body)})
	return true
}

func (c *fakeConn) eventLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *fakeConn) countEvent(ev string) int {
	n := 0
	for _, e := range c.eventLog() {
		if e == ev {
			n++
		}
	}
	return n
}

func (c *fakeConn) publishes() []publishedFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedFrame(nil), c.published...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSub struct {
	conn  *fakeConn
	topic string
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.subs, s.topic)
	s.conn.events = append(s.conn.events, "unsub:"+s.topic)
	return nil
}

// ============================================================================
// Fake transport
// ============================================================================

type fakeTransport struct {
	mu     sync.Mutex
	tokens []string
	conns  []*fakeConn
	errs   []error
}

func (f *fakeTransport) Dial(ctx context.Context, token string) (BrokerConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	c := newFakeConn()
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeTransport) failNext(errs ...error) {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
}

func (f *fakeTransport) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeTransport) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.conns) {
		return nil
	}
	return f.conns[i]
}

func (f *fakeTransport) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

// ============================================================================
// Fake REST API
// ============================================================================

type fakeAPI struct {
	mu          sync.Mutex
	history     map[string][]ChatMessage
	gates       map[string]chan struct{}
	historyErr  error
	channels    []Channel
	items       []Notification
	count       int
	ackErr      error
	readAcks    chan string
	readAllAcks chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history:     make(map[string][]ChatMessage),
		gates:       make(map[string]chan struct{}),
		readAcks:    make(chan string, 16),
		readAllAcks: make(chan struct{}, 16),
	}
}

// gate holds history responses for channelID until the returned func is called.
func (a *fakeAPI) gate(channelID string) (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.gates[channelID] = ch
	a.mu.Unlock()
	return func() { close(ch) }
}

func (a *fakeAPI) ChannelMessages(ctx context.Context, channelID string) ([]ChatMessage, error) {
	a.mu.Lock()
	gate := a.gates[channelID]
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return append([]ChatMessage(nil), a.history[channelID]...), nil
}

func (a *fakeAPI) Channels(ctx context.Context) ([]Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Channel(nil), a.channels...), nil
}

func (a *fakeAPI) Notifications(ctx context.Context, page, size int) ([]Notification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Notification(nil), a.items...), nil
}

func (a *fakeAPI) UnreadNotificationCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count, nil
}

func (a *fakeAPI) MarkNotificationRead(ctx context.Context, id string) error {
	a.readAcks <- id
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ackErr
}

func (a *fakeAPI) MarkAllNotificationsRead(ctx context.Context) error {
	a.readAllAcks <- struct{}{}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ackErr
}

// ============================================================================
// Fake publisher
// ============================================================================

type fakePublisher struct {
	mu   sync.Mutex
	sent []publishedFrame
	err  error
}

func (p *fakePublisher) Publish(destination string, body []byte, header map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, publishedFrame{destination, body, header})
	return nil
}

func (p *fakePublisher) frames() []publishedFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedFrame(nil), p.sent...)
}
