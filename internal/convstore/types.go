package convstore

// Status is a message delivery status. Order matters: a status never
// regresses to a lower rank.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusPlayed    Status = "played"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusPlayed:    4,
}

// StatusBefore reports whether a ranks strictly below b in the
// delivery progression.
func StatusBefore(a, b Status) bool {
	return statusRank[a] < statusRank[b]
}

// Chat is one conversation thread within a session.
type Chat struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsGroup      bool   `json:"is_group"`
	LastActivity int64  `json:"last_activity"` // seconds
	UnreadCount  int    `json:"unread_count"`
	LastPreview  string `json:"last_preview"`
	Pinned       bool   `json:"pinned"`
	Archived     bool   `json:"archived"`
	MutedUntil   int64  `json:"muted_until"` // 0 = not muted
}

// Media holds the resolved payload attributes of a media message. Nil on
// a Message until the associator patches it in.
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
	FileSize uint64 `json:"file_size"`
	Duration uint32 `json:"duration"` // seconds, audio/video only
}

// Message is one message within a Chat, unique by ID within that chat.
type Message struct {
	ID         string            `json:"id"`
	ChatID     string            `json:"chat_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	FromMe     bool              `json:"from_me"`
	Direction  string            `json:"direction"` // outgoing | incoming
	Timestamp  int64             `json:"timestamp"` // seconds
	Body       string            `json:"body"`
	Type       string            `json:"type"` // text image video audio document sticker contact location poll
	Status     Status            `json:"status"`
	Edited     bool              `json:"edited"`
	Deleted    bool              `json:"deleted"`
	QuotedID   string            `json:"quoted_id,omitempty"`
	QuotedBody string            `json:"quoted_body,omitempty"`
	Reactions  map[string]string `json:"reactions,omitempty"` // sender -> emoji, LWW
	Media      *Media            `json:"media,omitempty"`
	MediaError string            `json:"media_error,omitempty"`
}

// Receipt is the last delivery/read receipt recorded for a message.
type Receipt struct {
	Sender    string `json:"sender"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Presence is the last known presence of a chat participant.
type Presence struct {
	State    string `json:"state"` // available | unavailable | composing | recording | paused
	LastSeen int64  `json:"last_seen"`
}

// UpdateEntry is one append-only delta log record. Seq is the cursor for
// incremental client sync.
type UpdateEntry struct {
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	ChatID     string `json:"chat_id,omitempty"`
	Payload    any    `json:"payload,omitempty"`
	ObservedAt int64  `json:"observed_at"`
}

// Update log entry kinds.
const (
	UpdateHistorySync = "history_sync"
	UpdateNewMessage  = "new_message"
	UpdateStatus      = "status"
	UpdateReaction    = "reaction"
	UpdateEdit        = "edit"
	UpdateDelete      = "delete"
	UpdateMedia       = "media"
	UpdateChatDeleted = "chat_deleted"
	UpdateChatChanged = "chat_changed"
)

func (m *Message) clone() *Message {
	cp := *m
	if m.Reactions != nil {
		cp.Reactions = make(map[string]string, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = v
		}
	}
	if m.Media != nil {
		media := *m.Media
		cp.Media = &media
	}
	return &cp
}
