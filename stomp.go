package lazycord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"nhooyr.io/websocket"
)

// StompTransport speaks STOMP 1.2 over a WebSocket, the way the chat backend's
// broker relay expects: bearer token in the CONNECT frame and the upgrade
// request, heart-beats negotiated at a fixed interval in both directions.
type StompTransport struct {
	URL               string
	Host              string
	HeartbeatInterval time.Duration
	// HeartbeatGrace is how long past the negotiated interval the broker may
	// stay silent before the connection is treated as dropped. Zero means
	// half of HeartbeatInterval.
	HeartbeatGrace    time.Duration
	HTTPClient        *http.Client
	ReadLimit         int64
	CloseTimeout      time.Duration
}

// NewStompTransport creates a transport for the given ws:// or wss:// URL.
func NewStompTransport(url string, heartbeat time.Duration) *StompTransport {
	return &StompTransport{
		URL:               url,
		Host:              "/",
		HeartbeatInterval: heartbeat,
		ReadLimit:         1 << 20,
		CloseTimeout:      2 * time.Second,
	}
}

// Dial opens the WebSocket and completes the STOMP handshake.
func (t *StompTransport) Dial(ctx context.Context, token string) (BrokerConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.Dial(ctx, t.URL, &websocket.DialOptions{
		HTTPClient:   t.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: []string{"v12.stomp", "v11.stomp"},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("websocket dial: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if t.ReadLimit > 0 {
		ws.SetReadLimit(t.ReadLimit)
	}

	// The net.Conn outlives the dial context; it is torn down by Close or by
	// the broker dropping us.
	connCtx, cancel := context.WithCancel(context.Background())
	netConn := websocket.NetConn(connCtx, ws, websocket.MessageText)

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Header("Authorization", "Bearer "+token),
		stomp.ConnOpt.HeartBeat(t.HeartbeatInterval, t.HeartbeatInterval),
	}
	if grace := t.heartbeatGrace(); grace > 0 {
		opts = append(opts, stomp.ConnOpt.HeartBeatError(grace))
	}
	if t.Host != "" {
		opts = append(opts, stomp.ConnOpt.Host(t.Host))
	}

	type result struct {
		conn *stomp.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := stomp.Connect(netConn, opts...)
		ch <- result{c, err}
	}()

	var sc *stomp.Conn
	select {
	case r := <-ch:
		if r.err != nil {
			cancel()
			ws.Close(websocket.StatusNormalClosure, "")
			if isAuthRejection(r.err) {
				return nil, fmt.Errorf("stomp connect: %w: %v", ErrUnauthorized, r.err)
			}
			return nil, fmt.Errorf("stomp connect: %w", r.err)
		}
		sc = r.conn
	case <-ctx.Done():
		cancel()
		ws.Close(websocket.StatusGoingAway, "handshake timeout")
		return nil, fmt.Errorf("stomp connect: %w", ctx.Err())
	}

	return &stompConn{
		conn:         sc,
		ws:           ws,
		cancel:       cancel,
		done:         make(chan struct{}),
		closeTimeout: t.CloseTimeout,
	}, nil
}

func (t *StompTransport) heartbeatGrace() time.Duration {
	if t.HeartbeatGrace > 0 {
		return t.HeartbeatGrace
	}
	return t.HeartbeatInterval / 2
}

// isAuthRejection recognizes the ERROR frame a broker sends for a bad token.
func isAuthRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unauthorized", "access denied", "accessdenied", "authentication", "forbidden", "401", "403"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type stompConn struct {
	conn         *stomp.Conn
	ws           *websocket.Conn
	cancel       context.CancelFunc
	closeTimeout time.Duration

	closing  atomic.Bool
	failOnce sync.Once
	done     chan struct{}
	errMu    sync.Mutex
	err      error
}

var errStreamEnded = errors.New("subscription stream ended")

func (c *stompConn) fail(err error) {
	if c.closing.Load() {
		return
	}
	c.failOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *stompConn) Done() <-chan struct{} { return c.done }

func (c *stompConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *stompConn) Subscribe(topic string, deliver func(Frame)) (BrokerSubscription, error) {
	sub, err := c.conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		c.fail(err)
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &stompSubscription{sub: sub}
	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				c.fail(msg.Err)
				return
			}
			f := Frame{Topic: msg.Destination, Body: msg.Body}
			if msg.Header != nil {
				f.Header = make(map[string]string, msg.Header.Len())
				for i := 0; i < msg.Header.Len(); i++ {
					k, v := msg.Header.GetAt(i)
					f.Header[k] = v
				}
			}
			if f.Topic == "" {
				f.Topic = topic
			}
			deliver(f)
		}
		if !s.unsubscribed.Load() {
			c.fail(errStreamEnded)
		}
	}()
	return s, nil
}

func (c *stompConn) Publish(destination string, body []byte, header map[string]string) error {
	contentType := "application/json"
	var opts []func(*frame.Frame) error
	for k, v := range header {
		if strings.EqualFold(k, "content-type") {
			contentType = v
			continue
		}
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	if err := c.conn.Send(destination, contentType, body, opts...); err != nil {
		c.fail(err)
		return fmt.Errorf("send %s: %w", destination, err)
	}
	return nil
}

func (c *stompConn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.cancel()

	finished := make(chan error, 1)
	go func() { finished <- c.conn.Disconnect() }()

	var err error
	select {
	case err = <-finished:
	case <-time.After(c.closeTimeout):
		err = c.conn.MustDisconnect()
	}
	c.ws.Close(websocket.StatusNormalClosure, "client disconnect")
	return err
}

type stompSubscription struct {
	sub          *stomp.Subscription
	unsubscribed atomic.Bool
}

func (s *stompSubscription) Unsubscribe() error {
	if !s.unsubscribed.CompareAndSwap(false, true) {
		return nil
	}
	return s.sub.Unsubscribe()
}
