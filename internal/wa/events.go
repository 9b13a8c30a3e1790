package wa

import (
	"time"

	"github.com/matheus3301/wappd/internal/bus"
	"github.com/matheus3301/wappd/internal/convstore"
	"github.com/matheus3301/wappd/internal/status"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// ParsedReceipt is a normalized delivery/read receipt.
type ParsedReceipt struct {
	ChatID     string
	Sender     string
	MessageIDs []string
	Status     convstore.Status
}

// ParsedPresence is a normalized presence or typing indicator.
type ParsedPresence struct {
	ChatID      string
	Participant string
	State       string
	LastSeen    int64
}

// HistoryBatch is the payload of a history replay bus event.
type HistoryBatch struct {
	Chats    []*convstore.Chat
	Messages []*convstore.Message
}

// DisconnectInfo is the payload of a disconnect bus event. Recoverable
// disconnects get a reconnect scheduled by the session; terminal ones
// never do.
type DisconnectInfo struct {
	Reason      string
	Recoverable bool
}

// EventHandler processes whatsmeow events, drives the state machine,
// and publishes parsed domain events on the session's bus. It never
// touches the conversation store; the session's ingest loop subscribes
// to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function. A malformed or
// unknown event must never stop processing of subsequent events, so
// everything here absorbs rather than propagates.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.Presence:
		h.handlePresence(evt)
	case *events.ChatPresence:
		h.handleChatPresence(evt)
	case *events.Connected:
		h.logger.Info("connection open")
		_ = h.machine.Transition(status.Open)
		h.publish(bus.KindConnected, nil)
	case *events.PairSuccess:
		h.logger.Info("pairing succeeded", zap.String("jid", evt.ID.String()))
		h.publish(bus.KindPairSuccess, nil)
	case *events.Disconnected:
		h.logger.Warn("connection dropped")
		_ = h.machine.Transition(status.Disconnected)
		h.publish(bus.KindDisconnected, DisconnectInfo{Reason: "connection closed", Recoverable: true})
	case *events.StreamReplaced:
		h.logger.Warn("stream replaced by another client")
		h.machine.SetLastError("stream replaced")
		_ = h.machine.Transition(status.Disconnected)
		h.publish(bus.KindDisconnected, DisconnectInfo{Reason: "stream replaced", Recoverable: true})
	case *events.ConnectFailure:
		h.logger.Warn("connect failure", zap.String("reason", evt.Reason.String()))
		h.machine.SetLastError(evt.Reason.String())
		_ = h.machine.Transition(status.Disconnected)
		h.publish(bus.KindDisconnected, DisconnectInfo{Reason: evt.Reason.String(), Recoverable: true})
	case *events.LoggedOut:
		h.logger.Warn("credentials revoked", zap.String("reason", evt.Reason.String()))
		h.machine.SetLastError(evt.Reason.String())
		_ = h.machine.Transition(status.LoggedOut)
		h.publish(bus.KindLoggedOut, DisconnectInfo{Reason: evt.Reason.String(), Recoverable: false})
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	switch parsed.Kind {
	case ParsedReaction:
		h.publish(bus.KindReaction, parsed)
	case ParsedEdit:
		h.publish(bus.KindEdit, parsed)
	case ParsedRevoke:
		h.publish(bus.KindRevoke, parsed)
	default:
		h.publish(bus.KindMessage, parsed)
	}
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	var st convstore.Status
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		st = convstore.StatusDelivered
	case types.ReceiptTypeRead:
		st = convstore.StatusRead
	case types.ReceiptTypePlayed:
		st = convstore.StatusPlayed
	default:
		return
	}
	h.publish(bus.KindReceipt, &ParsedReceipt{
		ChatID:     NormalizeJID(evt.Chat.String()),
		Sender:     NormalizeJID(evt.Sender.String()),
		MessageIDs: evt.MessageIDs,
		Status:     st,
	})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	batch := &HistoryBatch{}
	for _, conv := range data.GetConversations() {
		chatID := NormalizeJID(conv.GetID())
		if chatID == "" {
			continue
		}
		chat := &convstore.Chat{
			ID:           chatID,
			Name:         conv.GetName(),
			IsGroup:      IsGroupJID(chatID),
			LastActivity: int64(conv.GetConversationTimestamp()),
			UnreadCount:  int(conv.GetUnreadCount()),
		}
		if chat.Name == "" {
			chat.Name = chatID
		}
		batch.Chats = append(batch.Chats, chat)

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			key := wmsg.GetKey()
			sender := key.GetParticipant()
			if sender == "" {
				sender = conv.GetID()
			}
			body := extractTextBody(wmsg.GetMessage())
			record := &convstore.Message{
				ID:         key.GetID(),
				ChatID:     chatID,
				SenderID:   NormalizeJID(sender),
				SenderName: wmsg.GetPushName(),
				FromMe:     key.GetFromMe(),
				Timestamp:  int64(wmsg.GetMessageTimestamp()),
				Body:       body,
				Type:       detectMessageType(wmsg.GetMessage()),
			}
			batch.Messages = append(batch.Messages, record)
		}
	}

	if len(batch.Chats) > 0 || len(batch.Messages) > 0 {
		h.logger.Info("history replay received",
			zap.Int("chats", len(batch.Chats)),
			zap.Int("messages", len(batch.Messages)))
		h.publish(bus.KindHistoryBatch, batch)
	}
}

func (h *EventHandler) handlePresence(evt *events.Presence) {
	state := "available"
	if evt.Unavailable {
		state = "unavailable"
	}
	var lastSeen int64
	if !evt.LastSeen.IsZero() {
		lastSeen = evt.LastSeen.Unix()
	}
	from := NormalizeJID(evt.From.String())
	h.publish(bus.KindPresence, &ParsedPresence{
		ChatID:      from,
		Participant: from,
		State:       state,
		LastSeen:    lastSeen,
	})
}

func (h *EventHandler) handleChatPresence(evt *events.ChatPresence) {
	h.publish(bus.KindPresence, &ParsedPresence{
		ChatID:      NormalizeJID(evt.Chat.String()),
		Participant: NormalizeJID(evt.Sender.String()),
		State:       string(evt.State),
	})
}

func (h *EventHandler) publish(kind string, payload any) {
	h.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
