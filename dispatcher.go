package lazycord

import (
	"encoding/json"
	"log/slog"
)

// Dispatcher routes inbound frames to the stores. Handle runs on the event loop.
type Dispatcher struct {
	messages      *MessageStore
	notifications *NotificationStore
	log           *slog.Logger
	metrics       *Metrics
}

// NewDispatcher creates a dispatcher feeding the given stores.
func NewDispatcher(messages *MessageStore, notifications *NotificationStore, log *slog.Logger, metrics *Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		messages:      messages,
		notifications: notifications,
		log:           log.With("component", "dispatcher"),
		metrics:       metrics,
	}
}

// Handle decodes f according to the subscription it came from. Frames that
// cannot be decoded are logged and dropped.
func (d *Dispatcher) Handle(kind FrameKind, f Frame) {
	d.metrics.frame(kind)

	switch kind {
	case FrameChannel:
		var msg ChatMessage
		if err := json.Unmarshal(f.Body, &msg); err != nil || msg.ID == "" {
			d.drop(kind, f, err)
			return
		}
		d.messages.AppendIncoming(msg)

	case FrameNotification:
		d.handleNotification(f)

	case FrameUnreadCount:
		var c unreadCount
		if err := json.Unmarshal(f.Body, &c); err != nil {
			d.drop(kind, f, err)
			return
		}
		d.notifications.SetUnreadCount(c.Count)

	default:
		d.drop(kind, f, nil)
	}
}

// handleNotification accepts a bare Notification or the typed envelope
// {"type":"NOTIFICATION","notification":{...}} / {"type":"COUNT","count":n}.
func (d *Dispatcher) handleNotification(f Frame) {
	var env notificationEnvelope
	if err := json.Unmarshal(f.Body, &env); err != nil {
		d.drop(FrameNotification, f, err)
		return
	}
	switch {
	case env.Type == "NOTIFICATION" && env.Notification != nil:
		d.notifications.Add(*env.Notification)
		return
	case env.Type == "COUNT" && env.Count != nil:
		d.notifications.SetUnreadCount(*env.Count)
		return
	}

	var n Notification
	if err := json.Unmarshal(f.Body, &n); err != nil || n.ID == "" {
		d.drop(FrameNotification, f, err)
		return
	}
	d.notifications.Add(n)
}

func (d *Dispatcher) drop(kind FrameKind, f Frame, err error) {
	d.log.Warn("undecodable frame dropped", "kind", kind, "topic", f.Topic, "error", err)
}
