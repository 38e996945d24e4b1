package lazycord

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

var (
	// ErrNotConnected is returned when a broker operation is attempted while
	// the connection is not CONNECTED. Nothing is queued.
	ErrNotConnected = errors.New("not connected")

	// ErrNoActiveChannel is returned by Send when no channel is selected.
	ErrNoActiveChannel = errors.New("no active channel")

	// ErrUnauthorized marks a rejected or missing credential. It is never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when a send exceeds the client-side flood limit.
	ErrRateLimited = errors.New("send rate exceeded")

	// ErrLoopStopped is returned when work is posted to a stopped event loop.
	ErrLoopStopped = errors.New("event loop stopped")
)

// APIError represents a non-2xx REST response.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Timestamp decodes both RFC 3339 and the zone-less ISO form the backend
// emits for LocalDateTime values. Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// At builds a Timestamp from a time.Time.
func At(t time.Time) Timestamp { return Timestamp{Time: t.UTC()} }

// ============================================================================
// Channels
// ============================================================================

type ChannelType string

const (
	ChannelPublic  ChannelType = "PUBLIC"
	ChannelPrivate ChannelType = "PRIVATE"
	ChannelDirect  ChannelType = "DIRECT"
)

// Channel is immutable once fetched; the channel list is replaced wholesale on reload.
type Channel struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	Type              ChannelType `json:"type"`
	CreatedByID       string      `json:"createdById,omitempty"`
	CreatedByUsername string      `json:"createdByUsername,omitempty"`
	MemberCount       int         `json:"memberCount"`
	CreatedAt         Timestamp   `json:"createdAt"`
}

// ============================================================================
// Messages
// ============================================================================

type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

// Attachment is owned by its ChatMessage.
type Attachment struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	DownloadURL  string `json:"downloadUrl"`
}

// ChatMessage IDs are server-assigned and globally unique.
type ChatMessage struct {
	ID              string       `json:"id"`
	ChannelID       string       `json:"channelId"`
	SenderID        string       `json:"senderId"`
	SenderUsername  string       `json:"senderUsername,omitempty"`
	SenderAvatarURL string       `json:"senderAvatarUrl,omitempty"`
	Content         string       `json:"content"`
	Type            MessageType  `json:"type"`
	AttachmentURL   string       `json:"attachmentUrl,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Edited          bool         `json:"edited"`
	CreatedAt       Timestamp    `json:"createdAt"`
}

// Before reports whether m sorts before o: creation time first, ID breaks ties.
func (m ChatMessage) Before(o ChatMessage) bool {
	if !m.CreatedAt.Equal(o.CreatedAt.Time) {
		return m.CreatedAt.Before(o.CreatedAt.Time)
	}
	return m.ID < o.ID
}

// SendCommand is the body of the send-message command.
type SendCommand struct {
	ChannelID string      `json:"channelId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
}

// ============================================================================
// Notifications
// ============================================================================

type NotificationType string

const (
	NotificationMention         NotificationType = "MENTION"
	NotificationMessage         NotificationType = "MESSAGE"
	NotificationMissionComplete NotificationType = "MISSION_COMPLETE"
	NotificationLevelUp         NotificationType = "LEVEL_UP"
	NotificationSystem          NotificationType = "SYSTEM"
)

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      string           `json:"data,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt Timestamp        `json:"createdAt"`
}

// notificationPage mirrors the paged list response; only the content is used.
type notificationPage struct {
	Content       []Notification `json:"content"`
	TotalElements int            `json:"totalElements"`
	Last          bool           `json:"last"`
}

type unreadCount struct {
	Count int `json:"count"`
}

// notificationEnvelope is the typed wrapper some gateways push on the
// notification topic instead of a bare Notification.
type notificationEnvelope struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	Count        *int          `json:"count,omitempty"`
}

// ============================================================================
// Transport frames
// ============================================================================

// Frame is one inbound unit delivered by a broker subscription.
type Frame struct {
	Topic  string
	Body   []byte
	Header map[string]string
}
