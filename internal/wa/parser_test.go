package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func liveEvent(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5511999999999", types.DefaultUserServer),
				Sender: types.NewJID("5511999999999", types.DefaultUserServer),
			},
			ID:        "3EB0DEADBEEF",
			PushName:  "Alice",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{
			"extended text wins over nothing",
			&waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("linked")}},
			"linked",
		},
		{
			"conversation wins over extended",
			&waE2E.Message{
				Conversation:        proto.String("plain"),
				ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("rich")},
			},
			"plain",
		},
		{
			"image caption",
			&waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("sunset")}},
			"sunset",
		},
		{
			"image without caption is empty",
			&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
			"",
		},
		{
			"video caption",
			&waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}},
			"clip",
		},
		{
			"document filename",
			&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("report.pdf")}},
			"report.pdf",
		},
		{
			"audio placeholder",
			&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}},
			"🎵 Audio",
		},
		{
			"sticker placeholder",
			&waE2E.Message{StickerMessage: &waE2E.StickerMessage{}},
			"🏷️ Sticker",
		},
		{
			"contact placeholder",
			&waE2E.Message{ContactMessage: &waE2E.ContactMessage{DisplayName: proto.String("Bob")}},
			"👤 Contact",
		},
		{
			"location placeholder",
			&waE2E.Message{LocationMessage: &waE2E.LocationMessage{}},
			"📍 Location",
		},
		{
			"poll placeholder",
			&waE2E.Message{PollCreationMessage: &waE2E.PollCreationMessage{}},
			"📊 Poll",
		},
		{"empty message", &waE2E.Message{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTextBody(tt.msg); got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "text"},
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"poll", &waE2E.Message{PollCreationMessage: &waE2E.PollCreationMessage{}}, "poll"},
		{"unknown shape falls back to text", &waE2E.Message{}, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMessageType(tt.msg); got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMedia(t *testing.T) {
	t.Run("text has no media", func(t *testing.T) {
		if ref := detectMedia(&waE2E.Message{Conversation: proto.String("hi")}); ref != nil {
			t.Fatalf("expected nil media ref, got %+v", ref)
		}
	})

	t.Run("image", func(t *testing.T) {
		ref := detectMedia(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Mimetype:   proto.String("image/jpeg"),
			FileLength: proto.Uint64(2048),
		}})
		if ref == nil {
			t.Fatal("expected media ref")
		}
		if ref.Ext != ".jpg" || ref.MimeType != "image/jpeg" || ref.FileSize != 2048 {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})

	t.Run("voice note gets ogg", func(t *testing.T) {
		ref := detectMedia(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			PTT:     proto.Bool(true),
			Seconds: proto.Uint32(12),
		}})
		if ref == nil || ref.Ext != ".ogg" || ref.Duration != 12 {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})

	t.Run("plain audio gets mp3", func(t *testing.T) {
		ref := detectMedia(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}})
		if ref == nil || ref.Ext != ".mp3" {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})

	t.Run("document keeps its extension", func(t *testing.T) {
		ref := detectMedia(&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			FileName: proto.String("report.pdf"),
		}})
		if ref == nil || ref.Ext != ".pdf" || ref.FileName != "report.pdf" {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})

	t.Run("document without extension gets bin", func(t *testing.T) {
		ref := detectMedia(&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			FileName: proto.String("README"),
		}})
		if ref == nil || ref.Ext != ".bin" {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})

	t.Run("sticker gets webp", func(t *testing.T) {
		ref := detectMedia(&waE2E.Message{StickerMessage: &waE2E.StickerMessage{}})
		if ref == nil || ref.Ext != ".webp" {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})
}

func TestParseLiveMessage(t *testing.T) {
	t.Run("text message", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{Conversation: proto.String("hello")}))
		if p.Kind != ParsedNewMessage {
			t.Fatalf("kind = %q, want %q", p.Kind, ParsedNewMessage)
		}
		if p.ChatID != "5511999999999@s.whatsapp.net" {
			t.Errorf("chat = %q", p.ChatID)
		}
		if p.MsgID != "3EB0DEADBEEF" || p.Body != "hello" || p.Type != "text" {
			t.Errorf("unexpected parse: %+v", p)
		}
		if p.SenderName != "Alice" {
			t.Errorf("sender name = %q", p.SenderName)
		}
		if p.Timestamp != 1700000000 {
			t.Errorf("timestamp = %d", p.Timestamp)
		}
	})

	t.Run("reaction", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{
			ReactionMessage: &waE2E.ReactionMessage{
				Key:  &waCommon.MessageKey{ID: proto.String("TARGET1")},
				Text: proto.String("👍"),
			},
		}))
		if p.Kind != ParsedReaction || p.TargetID != "TARGET1" || p.Emoji != "👍" {
			t.Errorf("unexpected parse: %+v", p)
		}
	})

	t.Run("reaction removal has empty emoji", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{
			ReactionMessage: &waE2E.ReactionMessage{
				Key: &waCommon.MessageKey{ID: proto.String("TARGET1")},
			},
		}))
		if p.Kind != ParsedReaction || p.Emoji != "" {
			t.Errorf("unexpected parse: %+v", p)
		}
	})

	t.Run("revoke", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{
			ProtocolMessage: &waE2E.ProtocolMessage{
				Type: waE2E.ProtocolMessage_REVOKE.Enum(),
				Key:  &waCommon.MessageKey{ID: proto.String("GONE1")},
			},
		}))
		if p.Kind != ParsedRevoke || p.TargetID != "GONE1" {
			t.Errorf("unexpected parse: %+v", p)
		}
	})

	t.Run("edit carries the new body", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{
			ProtocolMessage: &waE2E.ProtocolMessage{
				Type:          waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
				Key:           &waCommon.MessageKey{ID: proto.String("EDIT1")},
				EditedMessage: &waE2E.Message{Conversation: proto.String("fixed typo")},
			},
		}))
		if p.Kind != ParsedEdit || p.TargetID != "EDIT1" || p.Body != "fixed typo" {
			t.Errorf("unexpected parse: %+v", p)
		}
	})

	t.Run("quoted reply", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("agreed"),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String("ORIG1"),
					QuotedMessage: &waE2E.Message{Conversation: proto.String("shall we?")},
				},
			},
		}))
		if p.Kind != ParsedNewMessage || p.Body != "agreed" {
			t.Errorf("unexpected parse: %+v", p)
		}
		if p.QuotedID != "ORIG1" || p.QuotedBody != "shall we?" {
			t.Errorf("quoted = %q / %q", p.QuotedID, p.QuotedBody)
		}
	})

	t.Run("nil payload parses as empty text", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(nil))
		if p.Kind != ParsedNewMessage || p.Type != "text" || p.Body != "" {
			t.Errorf("unexpected parse: %+v", p)
		}
	})

	t.Run("image carries a media ref", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")},
		}))
		if p.Type != "image" || p.Media == nil || p.Media.Ext != ".jpg" {
			t.Errorf("unexpected parse: %+v", p)
		}
	})
}

func TestToRecord(t *testing.T) {
	t.Run("incoming defaults to delivered", func(t *testing.T) {
		p := ParseLiveMessage(liveEvent(&waE2E.Message{Conversation: proto.String("hi")}))
		rec := p.ToRecord()
		if rec.Direction != "incoming" || rec.Status != "delivered" {
			t.Errorf("unexpected record: %+v", rec)
		}
	})

	t.Run("outgoing defaults to sent", func(t *testing.T) {
		evt := liveEvent(&waE2E.Message{Conversation: proto.String("hi")})
		evt.Info.IsFromMe = true
		rec := ParseLiveMessage(evt).ToRecord()
		if rec.Direction != "outgoing" || rec.Status != "sent" || !rec.FromMe {
			t.Errorf("unexpected record: %+v", rec)
		}
	})
}

func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain user", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"device suffix stripped", "5511999999999:23@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"group untouched", "12036304@g.us", "12036304@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeJID(tt.in); got != tt.want {
				t.Errorf("NormalizeJID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsGroupJID(t *testing.T) {
	if !IsGroupJID("12036304@g.us") {
		t.Error("expected group")
	}
	if IsGroupJID("5511999999999@s.whatsapp.net") {
		t.Error("expected non-group")
	}
}
