package wa

import (
	"path/filepath"
	"strings"

	"github.com/matheus3301/wappd/internal/convstore"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedKind tags the normalized shape of a live message event.
type ParsedKind string

const (
	ParsedNewMessage ParsedKind = "message"
	ParsedReaction   ParsedKind = "reaction"
	ParsedEdit       ParsedKind = "edit"
	ParsedRevoke     ParsedKind = "revoke"
)

// ParsedMessage is a normalized message event ready for ingestion. The
// parser is pure: no store state, no side effects, identical output for
// identical input.
type ParsedMessage struct {
	Kind       ParsedKind
	ChatID     string
	MsgID      string
	SenderID   string
	SenderName string
	FromMe     bool
	Timestamp  int64 // seconds
	Body       string
	Type       string
	QuotedID   string
	QuotedBody string

	// Reaction/edit/revoke target message id, and the reaction emoji
	// ("" removes the sender's reaction).
	TargetID string
	Emoji    string

	Media *MediaRef
}

// MediaRef carries what the associator needs to resolve a media payload
// later, off the ingestion path.
type MediaRef struct {
	Ext      string
	MimeType string
	FileName string
	FileSize uint64
	Duration uint32
	Blob     whatsmeow.DownloadableMessage
}

// ParseLiveMessage normalizes one live message event into its tagged
// shape. Unknown payloads come back as a plain text message with an
// empty body; they never error.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	p := &ParsedMessage{
		ChatID:     NormalizeJID(evt.Info.Chat.String()),
		MsgID:      evt.Info.ID,
		SenderID:   NormalizeJID(evt.Info.Sender.String()),
		SenderName: evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp.Unix(),
	}

	msg := evt.Message
	if msg == nil {
		p.Kind = ParsedNewMessage
		p.Type = "text"
		return p
	}

	if react := msg.GetReactionMessage(); react != nil {
		p.Kind = ParsedReaction
		p.TargetID = react.GetKey().GetID()
		p.Emoji = react.GetText()
		return p
	}

	if protocol := msg.GetProtocolMessage(); protocol != nil {
		switch protocol.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			p.Kind = ParsedRevoke
			p.TargetID = protocol.GetKey().GetID()
			return p
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			p.Kind = ParsedEdit
			p.TargetID = protocol.GetKey().GetID()
			p.Body = extractTextBody(protocol.GetEditedMessage())
			return p
		}
	}

	p.Kind = ParsedNewMessage
	p.Body = extractTextBody(msg)
	p.Type = detectMessageType(msg)
	p.Media = detectMedia(msg)

	if ext := msg.GetExtendedTextMessage(); ext != nil {
		if ctx := ext.GetContextInfo(); ctx != nil && ctx.GetStanzaID() != "" {
			p.QuotedID = ctx.GetStanzaID()
			p.QuotedBody = extractTextBody(ctx.GetQuotedMessage())
		}
	}
	return p
}

// ToRecord converts a parsed new-message event to a store record.
func (p *ParsedMessage) ToRecord() *convstore.Message {
	direction := "incoming"
	status := convstore.StatusDelivered
	if p.FromMe {
		direction = "outgoing"
		status = convstore.StatusSent
	}
	return &convstore.Message{
		ID:         p.MsgID,
		ChatID:     p.ChatID,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		FromMe:     p.FromMe,
		Direction:  direction,
		Timestamp:  p.Timestamp,
		Body:       p.Body,
		Type:       p.Type,
		Status:     status,
		QuotedID:   p.QuotedID,
		QuotedBody: p.QuotedBody,
	}
}

// extractTextBody resolves a message's display text following a fixed
// priority order: plain text, extended text, image caption, video
// caption, document filename, then a per-kind placeholder. Previews and
// quoted-text rendering depend on this order; do not reorder.
func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil && img.GetCaption() != "" {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil && vid.GetCaption() != "" {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil && doc.GetFileName() != "" {
		return doc.GetFileName()
	}
	switch {
	case msg.GetAudioMessage() != nil:
		return "🎵 Audio"
	case msg.GetStickerMessage() != nil:
		return "🏷️ Sticker"
	case msg.GetContactMessage() != nil, msg.GetContactsArrayMessage() != nil:
		return "👤 Contact"
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return "📍 Location"
	case msg.GetPollCreationMessage() != nil, msg.GetPollCreationMessageV3() != nil:
		return "📊 Poll"
	}
	return ""
}

// detectMessageType classifies a payload into the canonical type set.
// Unknown shapes fall through to "text".
func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "text"
	}
	switch {
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil, msg.GetContactsArrayMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return "location"
	case msg.GetPollCreationMessage() != nil, msg.GetPollCreationMessageV3() != nil:
		return "poll"
	default:
		return "text"
	}
}

// detectMedia maps a payload shape to its downloadable reference and
// file extension. Non-media shapes yield nil.
func detectMedia(msg *waE2E.Message) *MediaRef {
	if msg == nil {
		return nil
	}
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return &MediaRef{
			Ext:      ".jpg",
			MimeType: img.GetMimetype(),
			FileSize: img.GetFileLength(),
			Blob:     img,
		}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return &MediaRef{
			Ext:      ".mp4",
			MimeType: vid.GetMimetype(),
			FileSize: vid.GetFileLength(),
			Duration: vid.GetSeconds(),
			Blob:     vid,
		}
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		ext := ".mp3"
		if audio.GetPTT() {
			ext = ".ogg"
		}
		return &MediaRef{
			Ext:      ext,
			MimeType: audio.GetMimetype(),
			FileSize: audio.GetFileLength(),
			Duration: audio.GetSeconds(),
			Blob:     audio,
		}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		name := doc.GetFileName()
		ext := filepath.Ext(name)
		if ext == "" {
			ext = ".bin"
		}
		return &MediaRef{
			Ext:      ext,
			MimeType: doc.GetMimetype(),
			FileName: name,
			FileSize: doc.GetFileLength(),
			Blob:     doc,
		}
	case msg.GetStickerMessage() != nil:
		sticker := msg.GetStickerMessage()
		return &MediaRef{
			Ext:      ".webp",
			MimeType: sticker.GetMimetype(),
			FileSize: sticker.GetFileLength(),
			Blob:     sticker,
		}
	}
	return nil
}

// NormalizeJID strips device/agent suffixes so history sync and live
// messages produce the same chat key for the same contact.
func NormalizeJID(jid string) string {
	if jid == "" {
		return ""
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return parsed.ToNonAD().String()
}

// IsGroupJID reports whether a chat id addresses a group.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
