package lazycord

import "context"

// Transport opens authenticated broker connections. Each Dial produces a new
// BrokerConn; connections are never reused across reconnect attempts.
type Transport interface {
	// Dial connects and completes the broker handshake with the given bearer
	// token. A rejected credential must be reported as an error wrapping
	// ErrUnauthorized.
	Dial(ctx context.Context, token string) (BrokerConn, error)
}

// BrokerConn is one live broker connection.
type BrokerConn interface {
	// Subscribe starts delivering frames published on topic. deliver is
	// called from a transport goroutine, in broker emission order.
	Subscribe(topic string, deliver func(Frame)) (BrokerSubscription, error)
	// Publish sends a fire-and-forget command. No acknowledgement is awaited.
	Publish(destination string, body []byte, header map[string]string) error
	// Done is closed when the connection ends abruptly: transport error,
	// closed socket or an overdue heartbeat. It is not closed by Close.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	// Close ends the connection gracefully.
	Close() error
}

// BrokerSubscription is a live topic subscription.
type BrokerSubscription interface {
	Unsubscribe() error
}
