package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/bus"
	"github.com/matheus3301/wappd/internal/convstore"
	"github.com/matheus3301/wappd/internal/media"
	"github.com/matheus3301/wappd/internal/status"
	"github.com/matheus3301/wappd/internal/wa"
)

// ErrNotConnected gates commands issued while the link is down.
var ErrNotConnected = errors.New("session not connected")

// ErrNotFound marks lookups of unknown chats or messages.
var ErrNotFound = errors.New("not found")

// Link is the network surface a session drives. The whatsmeow adapter
// satisfies it; tests substitute a fake so lifecycle behavior can be
// exercised without a socket.
type Link interface {
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	PurgeCredentials(ctx context.Context) error
	IsLoggedIn() bool
	QRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	PhoneNumber() string

	SendText(ctx context.Context, chatID, text, quotedID, quotedBody string) (string, error)
	SendLocation(ctx context.Context, chatID string, lat, lon float64, name, address string) (string, error)
	SendContact(ctx context.Context, chatID, name, phone string) (string, error)
	SendPoll(ctx context.Context, chatID, name string, options []string, selectable int) (string, error)
	SendReaction(ctx context.Context, chatID, msgID, emoji string) error
	EditText(ctx context.Context, chatID, msgID, text string) error
	RevokeMessage(ctx context.Context, chatID, msgID string) error
	MarkRead(ctx context.Context, chatID string, msgIDs []string) error
	SendPresence(ctx context.Context, available bool) error
	SendChatPresence(ctx context.Context, chatID, state string) error
	SetChatPinned(ctx context.Context, chatID string, pinned bool) error
	SetChatArchived(ctx context.Context, chatID string, archived bool) error
	SetChatMuted(ctx context.Context, chatID string, duration time.Duration) error
	GroupInfo(ctx context.Context, chatID string) (*types.GroupInfo, error)
	CreateGroup(ctx context.Context, name string, participants []string) (*types.GroupInfo, error)
	GroupInviteLink(ctx context.Context, chatID string) (string, error)
	LeaveGroup(ctx context.Context, chatID string) error
	ProfilePictureURL(ctx context.Context, chatID string) (string, error)
}

// Options tunes a session's reconnect and heartbeat cadence.
type Options struct {
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

func (o *Options) fill() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
}

// Session is one WhatsApp account: its link, connection state machine,
// volatile conversation store and media fetcher. All store mutation
// funnels through the ingest goroutine; commands and HTTP readers touch
// the store only through its own locking.
type Session struct {
	ID string

	link    Link
	bus     *bus.Bus
	machine *status.Machine
	store   *convstore.Store
	fetcher *media.Fetcher
	logger  *zap.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	reconnectT  *time.Timer
	heartbeatC  chan struct{}
	closing     bool
	connectedAt time.Time
	startedAt   time.Time
}

// New wires a session from its parts. Call Start to go online.
func New(id string, link Link, b *bus.Bus, machine *status.Machine, store *convstore.Store, fetcher *media.Fetcher, logger *zap.Logger, opts Options) *Session {
	opts.fill()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		link:      link,
		bus:       b,
		machine:   machine,
		store:     store,
		fetcher:   fetcher,
		logger:    logger.With(zap.String("session", id)),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
}

// Store exposes the session's conversation store to the HTTP facade.
func (s *Session) Store() *convstore.Store { return s.store }

// Machine exposes the session's state machine.
func (s *Session) Machine() *status.Machine { return s.machine }

// Start subscribes the ingest loop and initiates the first connection.
func (s *Session) Start() error {
	if s.fetcher != nil {
		if err := s.fetcher.Start(); err != nil {
			return fmt.Errorf("start media fetcher: %w", err)
		}
	}

	events, unsub := s.bus.Subscribe("", 256)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		s.ingest(events)
	}()

	return s.connect()
}

// connect transitions to Connecting and dials. When no credentials are
// stored the QR pairing channel is consumed first.
func (s *Session) connect() error {
	if err := s.machine.Transition(status.Connecting); err != nil {
		return err
	}

	if !s.link.IsLoggedIn() {
		qrCh, err := s.link.QRChannel(s.ctx)
		if err != nil {
			s.machine.SetLastError(err.Error())
			_ = s.machine.Transition(status.Disconnected)
			return fmt.Errorf("pairing channel: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consumeQR(qrCh)
		}()
	}

	if err := s.link.Connect(); err != nil {
		s.machine.SetLastError(err.Error())
		_ = s.machine.Transition(status.Disconnected)
		s.scheduleReconnect()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (s *Session) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			switch item.Event {
			case "code":
				s.logger.Info("pairing code issued")
				s.machine.SetQR(item.Code)
			case "success", "timeout":
				// Terminal; the connection events drive the machine
				// from here.
			default:
				if item.Error != nil {
					s.logger.Warn("pairing failed", zap.Error(item.Error))
					s.machine.SetLastError(fmt.Sprintf("pairing failed: %v", item.Error))
				}
			}
		}
	}
}

// ingest applies parsed bus events to the conversation store and drives
// reconnect/heartbeat scheduling from connection events.
func (s *Session) ingest(events <-chan bus.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(evt)
		}
	}
}

func (s *Session) dispatch(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessage:
		p, ok := evt.Payload.(*wa.ParsedMessage)
		if !ok {
			return
		}
		inserted := s.store.ApplyLiveMessage(p.ToRecord(), true)
		if inserted && p.Media != nil && s.fetcher != nil {
			s.fetcher.Enqueue(media.Task{ChatID: p.ChatID, MsgID: p.MsgID, Ref: p.Media})
		}
	case bus.KindHistoryBatch:
		batch, ok := evt.Payload.(*wa.HistoryBatch)
		if !ok {
			return
		}
		s.store.ApplyHistoryBatch(batch.Chats, batch.Messages)
	case bus.KindReceipt:
		r, ok := evt.Payload.(*wa.ParsedReceipt)
		if !ok {
			return
		}
		for _, id := range r.MessageIDs {
			s.store.ApplyStatusUpdate(r.ChatID, id, r.Sender, r.Status)
		}
	case bus.KindReaction:
		p, ok := evt.Payload.(*wa.ParsedMessage)
		if !ok {
			return
		}
		s.store.ApplyReaction(p.ChatID, p.TargetID, p.SenderID, p.Emoji)
	case bus.KindEdit:
		p, ok := evt.Payload.(*wa.ParsedMessage)
		if !ok {
			return
		}
		s.store.ApplyEdit(p.ChatID, p.TargetID, p.Body)
	case bus.KindRevoke:
		p, ok := evt.Payload.(*wa.ParsedMessage)
		if !ok {
			return
		}
		s.store.ApplyDelete(p.ChatID, p.TargetID)
	case bus.KindPresence:
		p, ok := evt.Payload.(*wa.ParsedPresence)
		if !ok {
			return
		}
		s.store.SetPresence(p.ChatID, p.Participant, convstore.Presence{
			State:    p.State,
			LastSeen: p.LastSeen,
		})
	case bus.KindConnected:
		s.onConnected()
	case bus.KindDisconnected:
		info, _ := evt.Payload.(wa.DisconnectInfo)
		s.onDisconnected(info)
	case bus.KindLoggedOut:
		s.onLoggedOut()
	}
}

func (s *Session) onConnected() {
	s.mu.Lock()
	s.connectedAt = time.Now()
	s.cancelReconnectLocked()
	s.startHeartbeatLocked()
	s.mu.Unlock()
}

func (s *Session) onDisconnected(info wa.DisconnectInfo) {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	closing := s.closing
	s.mu.Unlock()
	if closing || !info.Recoverable {
		return
	}
	s.scheduleReconnect()
}

func (s *Session) onLoggedOut() {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	s.cancelReconnectLocked()
	s.mu.Unlock()
	// Stored credentials are dead; purge them so the next restart
	// begins a fresh pairing.
	if err := s.link.PurgeCredentials(context.Background()); err != nil {
		s.logger.Warn("credential purge failed", zap.Error(err))
	}
}

// scheduleReconnect arms the single reconnect timer. A pending timer is
// left alone so overlapping disconnect events cannot stack dials.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.reconnectT != nil {
		return
	}
	s.logger.Info("reconnect scheduled", zap.Duration("delay", s.opts.ReconnectDelay))
	s.reconnectT = time.AfterFunc(s.opts.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnectT = nil
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return
		}
		if err := s.connect(); err != nil {
			s.logger.Warn("reconnect failed", zap.Error(err))
		}
	})
}

func (s *Session) cancelReconnectLocked() {
	if s.reconnectT != nil {
		s.reconnectT.Stop()
		s.reconnectT = nil
	}
}

// startHeartbeatLocked runs a presence ping loop while the connection
// stays open. The server drops idle sessions without it.
func (s *Session) startHeartbeatLocked() {
	if s.heartbeatC != nil {
		return
	}
	stop := make(chan struct{})
	s.heartbeatC = stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.link.SendPresence(s.ctx, true); err != nil {
					s.logger.Debug("heartbeat presence failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatC != nil {
		close(s.heartbeatC)
		s.heartbeatC = nil
	}
}

// Restart drops the connection and credentials and begins a fresh
// pairing, keeping the in-memory store.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.cancelReconnectLocked()
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	s.link.Disconnect()
	if err := s.link.PurgeCredentials(ctx); err != nil {
		return fmt.Errorf("purge credentials: %w", err)
	}
	switch s.machine.Current() {
	case status.Disconnected, status.LoggedOut:
	default:
		_ = s.machine.Transition(status.Disconnected)
	}
	return s.connect()
}

// Close takes the session offline and releases its goroutines. When
// logout is true the credentials are invalidated on the server first.
func (s *Session) Close(ctx context.Context, logout bool) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.cancelReconnectLocked()
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	if logout && s.link.IsLoggedIn() {
		if err := s.link.Logout(ctx); err != nil {
			s.logger.Warn("logout failed", zap.Error(err))
		}
	}
	s.link.Disconnect()
	s.cancel()
	s.bus.Close()
	if s.fetcher != nil {
		s.fetcher.Stop()
	}
	s.wg.Wait()
}

// Snapshot is the status surface for one session.
type Snapshot struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Phone       string `json:"phone,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	HasQR       bool   `json:"has_qr"`
	Chats       int    `json:"chats"`
	Messages    int    `json:"messages"`
	UptimeSec   int64  `json:"uptime_sec"`
	ConnectedAt int64  `json:"connected_at,omitempty"`
}

// Status returns a point-in-time view of the session.
func (s *Session) Status() Snapshot {
	chats, messages := s.store.Counts()
	snap := Snapshot{
		ID:        s.ID,
		State:     string(s.machine.Current()),
		Phone:     s.link.PhoneNumber(),
		LastError: s.machine.LastError(),
		HasQR:     s.machine.QR() != "",
		Chats:     chats,
		Messages:  messages,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	}
	s.mu.Lock()
	if !s.connectedAt.IsZero() {
		snap.ConnectedAt = s.connectedAt.Unix()
	}
	s.mu.Unlock()
	return snap
}

// QRCode returns the pending pairing payload, or "".
func (s *Session) QRCode() string { return s.machine.QR() }

// ownJID is the sender key used for locally issued reactions.
func (s *Session) ownJID() string {
	phone := s.link.PhoneNumber()
	if phone == "" {
		return "me"
	}
	return phone + "@s.whatsapp.net"
}

// requireOpen gates commands on a live connection.
func (s *Session) requireOpen() error {
	if st := s.machine.Current(); st != status.Open {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, st)
	}
	return nil
}

// SendText sends a text message and records it locally as sent. The
// quoted body is resolved from the store when replying.
func (s *Session) SendText(ctx context.Context, chatID, text, quotedID string) (*convstore.Message, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	chatID = wa.NormalizeJID(chatID)
	var quotedBody string
	if quotedID != "" {
		if q := s.store.GetMessage(chatID, quotedID); q != nil {
			quotedBody = q.Body
		}
	}
	id, err := s.link.SendText(ctx, chatID, text, quotedID, quotedBody)
	if err != nil {
		return nil, err
	}
	return s.recordOutgoing(chatID, id, text, "text", quotedID, quotedBody), nil
}

// SendLocation sends a location pin.
func (s *Session) SendLocation(ctx context.Context, chatID string, lat, lon float64, name, address string) (*convstore.Message, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	chatID = wa.NormalizeJID(chatID)
	id, err := s.link.SendLocation(ctx, chatID, lat, lon, name, address)
	if err != nil {
		return nil, err
	}
	return s.recordOutgoing(chatID, id, "📍 Location", "location", "", ""), nil
}

// SendContact sends a contact card.
func (s *Session) SendContact(ctx context.Context, chatID, name, phone string) (*convstore.Message, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	chatID = wa.NormalizeJID(chatID)
	id, err := s.link.SendContact(ctx, chatID, name, phone)
	if err != nil {
		return nil, err
	}
	return s.recordOutgoing(chatID, id, "👤 Contact", "contact", "", ""), nil
}

// SendPoll sends a poll.
func (s *Session) SendPoll(ctx context.Context, chatID, name string, options []string, selectable int) (*convstore.Message, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	chatID = wa.NormalizeJID(chatID)
	id, err := s.link.SendPoll(ctx, chatID, name, options, selectable)
	if err != nil {
		return nil, err
	}
	return s.recordOutgoing(chatID, id, "📊 Poll", "poll", "", ""), nil
}

func (s *Session) recordOutgoing(chatID, id, body, typ, quotedID, quotedBody string) *convstore.Message {
	rec := &convstore.Message{
		ID:         id,
		ChatID:     chatID,
		SenderID:   s.ownJID(),
		FromMe:     true,
		Direction:  "outgoing",
		Timestamp:  time.Now().Unix(),
		Body:       body,
		Type:       typ,
		Status:     convstore.StatusSent,
		QuotedID:   quotedID,
		QuotedBody: quotedBody,
	}
	s.store.ApplyLiveMessage(rec, false)
	return rec
}

// React sends a reaction and applies it locally. An empty emoji removes
// this account's reaction.
func (s *Session) React(ctx context.Context, chatID, msgID, emoji string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.SendReaction(ctx, chatID, msgID, emoji); err != nil {
		return err
	}
	if !s.store.ApplyReaction(chatID, msgID, s.ownJID(), emoji) {
		return fmt.Errorf("message %s in %s: %w", msgID, chatID, ErrNotFound)
	}
	return nil
}

// Edit edits an outgoing message and applies the new body locally.
func (s *Session) Edit(ctx context.Context, chatID, msgID, text string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.EditText(ctx, chatID, msgID, text); err != nil {
		return err
	}
	if !s.store.ApplyEdit(chatID, msgID, text) {
		return fmt.Errorf("message %s in %s: %w", msgID, chatID, ErrNotFound)
	}
	return nil
}

// Delete revokes an outgoing message for everyone and soft-deletes it
// locally.
func (s *Session) Delete(ctx context.Context, chatID, msgID string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.RevokeMessage(ctx, chatID, msgID); err != nil {
		return err
	}
	if !s.store.ApplyDelete(chatID, msgID) {
		return fmt.Errorf("message %s in %s: %w", msgID, chatID, ErrNotFound)
	}
	return nil
}

// MarkRead sends read receipts for the chat's latest incoming messages
// and clears the local unread counter.
func (s *Session) MarkRead(ctx context.Context, chatID string, ids []string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if s.store.GetChat(chatID) == nil {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}

	if len(ids) == 0 {
		msgs, _ := s.store.ListMessages(chatID, 50, 0)
		for _, m := range msgs {
			if !m.FromMe && convstore.StatusBefore(m.Status, convstore.StatusRead) {
				ids = append(ids, m.ID)
			}
		}
	}
	if len(ids) > 0 {
		if err := s.link.MarkRead(ctx, chatID, ids); err != nil {
			return err
		}
	}
	s.store.ResetUnread(chatID)
	return nil
}

// Presence broadcasts global availability for the account.
func (s *Session) Presence(ctx context.Context, state string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	switch state {
	case "available":
		return s.link.SendPresence(ctx, true)
	case "unavailable":
		return s.link.SendPresence(ctx, false)
	default:
		return fmt.Errorf("unknown presence state %q", state)
	}
}

// Typing broadcasts a composing/paused indicator.
func (s *Session) Typing(ctx context.Context, chatID, state string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	return s.link.SendChatPresence(ctx, wa.NormalizeJID(chatID), state)
}

// SetPinned pins or unpins a chat on the account and locally.
func (s *Session) SetPinned(ctx context.Context, chatID string, pinned bool) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.SetChatPinned(ctx, chatID, pinned); err != nil {
		return err
	}
	if !s.store.SetChatFlags(chatID, &pinned, nil, nil) {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// SetArchived archives or unarchives a chat on the account and locally.
func (s *Session) SetArchived(ctx context.Context, chatID string, archived bool) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.SetChatArchived(ctx, chatID, archived); err != nil {
		return err
	}
	if !s.store.SetChatFlags(chatID, nil, &archived, nil) {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// SetMuted mutes a chat for the given duration; zero unmutes.
func (s *Session) SetMuted(ctx context.Context, chatID string, duration time.Duration) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.SetChatMuted(ctx, chatID, duration); err != nil {
		return err
	}
	var until int64
	if duration > 0 {
		until = time.Now().Add(duration).Unix()
	}
	if !s.store.SetChatFlags(chatID, nil, nil, &until) {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// DeleteChat removes a chat from the local store. The account's server
// copy is untouched.
func (s *Session) DeleteChat(chatID string) error {
	chatID = wa.NormalizeJID(chatID)
	if !s.store.DeleteChat(chatID) {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// GroupInfo fetches group metadata from the network.
func (s *Session) GroupInfo(ctx context.Context, chatID string) (*types.GroupInfo, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.link.GroupInfo(ctx, wa.NormalizeJID(chatID))
}

// CreateGroup creates a group.
func (s *Session) CreateGroup(ctx context.Context, name string, participants []string) (*types.GroupInfo, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.link.CreateGroup(ctx, name, participants)
}

// GroupInviteLink returns a group's invite link.
func (s *Session) GroupInviteLink(ctx context.Context, chatID string) (string, error) {
	if err := s.requireOpen(); err != nil {
		return "", err
	}
	return s.link.GroupInviteLink(ctx, wa.NormalizeJID(chatID))
}

// LeaveGroup leaves a group and removes it locally.
func (s *Session) LeaveGroup(ctx context.Context, chatID string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	chatID = wa.NormalizeJID(chatID)
	if err := s.link.LeaveGroup(ctx, chatID); err != nil {
		return err
	}
	s.store.DeleteChat(chatID)
	return nil
}

// ProfilePictureURL returns a contact's or group's picture URL, or "".
func (s *Session) ProfilePictureURL(ctx context.Context, chatID string) (string, error) {
	if err := s.requireOpen(); err != nil {
		return "", err
	}
	return s.link.ProfilePictureURL(ctx, wa.NormalizeJID(chatID))
}
