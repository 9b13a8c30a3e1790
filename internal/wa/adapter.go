package wa

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client for one session. It owns the
// connection socket and the credential container; lifecycle decisions
// (reconnects, heartbeats) belong to the session, not here.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	session   string
}

// NewAdapter creates a WhatsApp adapter whose credentials live in the
// sqlite container at dbPath.
func NewAdapter(ctx context.Context, sessionID, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wappd", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	return &Adapter{
		client:    client,
		container: container,
		logger:    logger,
		session:   sessionID,
	}, nil
}

// IsLoggedIn returns whether the adapter has stored credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the connection. Non-blocking; progress arrives as
// events on the registered handler.
func (a *Adapter) Connect() error {
	return a.client.Connect()
}

// Disconnect terminates the connection.
func (a *Adapter) Disconnect() {
	a.client.Disconnect()
}

// Logout invalidates the session on the server and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// PurgeCredentials erases the stored device credentials without a
// server round-trip. Used for terminal logouts and forced restarts.
func (a *Adapter) PurgeCredentials(ctx context.Context) error {
	if a.client.Store.ID == nil {
		return nil
	}
	return a.client.Store.Delete(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// QRChannel returns the pairing channel. Must be called before Connect
// and only when not logged in.
func (a *Adapter) QRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// PhoneNumber returns the phone number from the device store, or "".
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// SendText sends a text message, optionally quoting an earlier message.
// Returns the server-assigned message id.
func (a *Adapter) SendText(ctx context.Context, chatID, text, quotedID, quotedBody string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	var msg *waE2E.Message
	if quotedID == "" {
		msg = &waE2E.Message{Conversation: proto.String(text)}
	} else {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(quotedID),
					Participant:   proto.String(to.String()),
					QuotedMessage: &waE2E.Message{Conversation: proto.String(quotedBody)},
				},
			},
		}
	}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// SendLocation sends a location pin.
func (a *Adapter) SendLocation(ctx context.Context, chatID string, lat, lon float64, name, address string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(lat),
			DegreesLongitude: proto.Float64(lon),
			Name:             proto.String(name),
			Address:          proto.String(address),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send location: %w", err)
	}
	return resp.ID, nil
}

// SendContact sends a vCard contact card.
func (a *Adapter) SendContact(ctx context.Context, chatID, name, phone string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	vcard := fmt.Sprintf("BEGIN:VCARD\nVERSION:3.0\nFN:%s\nTEL;type=CELL:%s\nEND:VCARD", name, phone)
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String(name),
			Vcard:       proto.String(vcard),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send contact: %w", err)
	}
	return resp.ID, nil
}

// SendPoll sends a poll. selectable 0 means multi-select.
func (a *Adapter) SendPoll(ctx context.Context, chatID, name string, options []string, selectable int) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, a.client.BuildPollCreation(name, options, selectable))
	if err != nil {
		return "", fmt.Errorf("send poll: %w", err)
	}
	return resp.ID, nil
}

// SendReaction reacts to a message; an empty emoji removes the
// reaction.
func (a *Adapter) SendReaction(ctx context.Context, chatID, msgID, emoji string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	sender := types.EmptyJID
	if a.client.Store.ID != nil {
		sender = *a.client.Store.ID
	}
	_, err = a.client.SendMessage(ctx, to, a.client.BuildReaction(to, sender, msgID, emoji))
	if err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

// EditText edits an earlier outgoing message.
func (a *Adapter) EditText(ctx context.Context, chatID, msgID, text string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	_, err = a.client.SendMessage(ctx, to,
		a.client.BuildEdit(to, msgID, &waE2E.Message{Conversation: proto.String(text)}))
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// RevokeMessage deletes an earlier outgoing message for everyone.
func (a *Adapter) RevokeMessage(ctx context.Context, chatID, msgID string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	_, err = a.client.SendMessage(ctx, to, a.client.BuildRevoke(to, types.EmptyJID, msgID))
	if err != nil {
		return fmt.Errorf("revoke message: %w", err)
	}
	return nil
}

// MarkRead sends read receipts for the given message ids.
func (a *Adapter) MarkRead(ctx context.Context, chatID string, msgIDs []string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	ids := make([]types.MessageID, len(msgIDs))
	for i, id := range msgIDs {
		ids[i] = id
	}
	if err := a.client.MarkRead(ctx, ids, time.Now(), to, to); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SendPresence broadcasts global availability; the heartbeat uses it
// as a keep-alive no-op.
func (a *Adapter) SendPresence(ctx context.Context, available bool) error {
	state := types.PresenceAvailable
	if !available {
		state = types.PresenceUnavailable
	}
	return a.client.SendPresence(ctx, state)
}

// SendChatPresence broadcasts a typing indicator to one chat.
func (a *Adapter) SendChatPresence(ctx context.Context, chatID, state string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	cp := types.ChatPresence(state)
	if cp != types.ChatPresenceComposing && cp != types.ChatPresencePaused {
		return fmt.Errorf("unknown chat presence state %q", state)
	}
	return a.client.SendChatPresence(ctx, to, cp, "")
}

// SetChatPinned pins or unpins a chat via app state sync.
func (a *Adapter) SetChatPinned(ctx context.Context, chatID string, pinned bool) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	return a.client.SendAppState(ctx, appstate.BuildPin(to, pinned))
}

// SetChatArchived archives or unarchives a chat via app state sync.
func (a *Adapter) SetChatArchived(ctx context.Context, chatID string, archived bool) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	return a.client.SendAppState(ctx, appstate.BuildArchive(to, archived, time.Time{}, nil))
}

// SetChatMuted mutes a chat for the given duration (0 unmutes).
func (a *Adapter) SetChatMuted(ctx context.Context, chatID string, duration time.Duration) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	return a.client.SendAppState(ctx, appstate.BuildMute(to, duration > 0, duration))
}

// GroupInfo fetches group metadata.
func (a *Adapter) GroupInfo(ctx context.Context, chatID string) (*types.GroupInfo, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	return info, nil
}

// CreateGroup creates a group with the given participants.
func (a *Adapter) CreateGroup(ctx context.Context, name string, participants []string) (*types.GroupInfo, error) {
	jids := make([]types.JID, 0, len(participants))
	for _, p := range participants {
		jid, err := types.ParseJID(p)
		if err != nil {
			return nil, fmt.Errorf("parse participant JID %q: %w", p, err)
		}
		jids = append(jids, jid)
	}
	info, err := a.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: jids,
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return info, nil
}

// GroupInviteLink returns the group's invite link.
func (a *Adapter) GroupInviteLink(ctx context.Context, chatID string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	link, err := a.client.GetGroupInviteLink(ctx, to, false)
	if err != nil {
		return "", fmt.Errorf("invite link: %w", err)
	}
	return link, nil
}

// LeaveGroup leaves a group.
func (a *Adapter) LeaveGroup(ctx context.Context, chatID string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	if err := a.client.LeaveGroup(ctx, to); err != nil {
		return fmt.Errorf("leave group: %w", err)
	}
	return nil
}

// ProfilePictureURL returns the URL of a contact's or group's profile
// picture, or "" when none is visible.
func (a *Adapter) ProfilePictureURL(ctx context.Context, chatID string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetProfilePictureInfo(ctx, to, nil)
	if err != nil || info == nil {
		// Not visible or not set; both surface as no picture.
		return "", nil
	}
	return info.URL, nil
}

// Download fetches a media payload.
func (a *Adapter) Download(ctx context.Context, blob whatsmeow.DownloadableMessage) ([]byte, error) {
	return a.client.Download(ctx, blob)
}
