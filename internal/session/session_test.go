package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/bus"
	"github.com/matheus3301/wappd/internal/convstore"
	"github.com/matheus3301/wappd/internal/status"
	"github.com/matheus3301/wappd/internal/wa"
)

// fakeLink satisfies Link without a socket. Counters are guarded so
// tests can assert from the main goroutine.
type fakeLink struct {
	mu           sync.Mutex
	connects     int
	disconnects  int
	logouts      int
	purges       int
	loggedIn     bool
	connectErr   error
	sentIDs      []string
	markedRead   []string
	lastReaction string
}

func (f *fakeLink) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeLink) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.loggedIn = false
	return nil
}

func (f *fakeLink) PurgeCredentials(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges++
	f.loggedIn = false
	return nil
}

func (f *fakeLink) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeLink) QRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	ch := make(chan whatsmeow.QRChannelItem)
	close(ch)
	return ch, nil
}

func (f *fakeLink) PhoneNumber() string { return "5511999999999" }

func (f *fakeLink) SendText(_ context.Context, _, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "SRV" + string(rune('0'+len(f.sentIDs)))
	f.sentIDs = append(f.sentIDs, id)
	return id, nil
}

func (f *fakeLink) SendLocation(_ context.Context, _ string, _, _ float64, _, _ string) (string, error) {
	return "LOC1", nil
}

func (f *fakeLink) SendContact(_ context.Context, _, _, _ string) (string, error) {
	return "CON1", nil
}

func (f *fakeLink) SendPoll(_ context.Context, _, _ string, _ []string, _ int) (string, error) {
	return "POL1", nil
}

func (f *fakeLink) SendReaction(_ context.Context, _, msgID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReaction = msgID + ":" + emoji
	return nil
}

func (f *fakeLink) EditText(context.Context, string, string, string) error  { return nil }
func (f *fakeLink) RevokeMessage(context.Context, string, string) error    { return nil }
func (f *fakeLink) SendPresence(context.Context, bool) error               { return nil }
func (f *fakeLink) SendChatPresence(context.Context, string, string) error { return nil }
func (f *fakeLink) SetChatPinned(context.Context, string, bool) error      { return nil }
func (f *fakeLink) SetChatArchived(context.Context, string, bool) error    { return nil }
func (f *fakeLink) SetChatMuted(context.Context, string, time.Duration) error {
	return nil
}

func (f *fakeLink) MarkRead(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, ids...)
	return nil
}

func (f *fakeLink) GroupInfo(context.Context, string) (*types.GroupInfo, error) {
	return &types.GroupInfo{GroupName: types.GroupName{Name: "squad"}}, nil
}

func (f *fakeLink) CreateGroup(context.Context, string, []string) (*types.GroupInfo, error) {
	return &types.GroupInfo{}, nil
}

func (f *fakeLink) GroupInviteLink(context.Context, string) (string, error) {
	return "https://chat.whatsapp.com/ABC", nil
}

func (f *fakeLink) LeaveGroup(context.Context, string) error { return nil }

func (f *fakeLink) ProfilePictureURL(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeLink) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func newTestSession(t *testing.T, link *fakeLink) (*Session, *bus.Bus, *status.Machine) {
	t.Helper()
	b := bus.New()
	machine := status.NewMachine(b)
	s := New("test", link, b, machine, convstore.New(0, 0), nil, zap.NewNop(), Options{
		ReconnectDelay:    20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})
	t.Cleanup(func() { s.Close(context.Background(), false) })
	return s, b, machine
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartConnects(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, machine := newTestSession(t, link)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if link.connectCount() != 1 {
		t.Errorf("connects = %d, want 1", link.connectCount())
	}
	if machine.Current() != status.Connecting {
		t.Errorf("state = %q", machine.Current())
	}
}

func TestReconnectAfterRecoverableDisconnect(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, b, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	// Drive the machine the way the event handler would.
	if err := machine.Transition(status.Open); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Disconnected); err != nil {
		t.Fatal(err)
	}
	b.Publish(bus.Event{
		Kind:    bus.KindDisconnected,
		Payload: wa.DisconnectInfo{Reason: "connection closed", Recoverable: true},
	})

	waitUntil(t, func() bool { return link.connectCount() == 2 })
	if machine.Current() != status.Connecting {
		t.Errorf("state = %q", machine.Current())
	}
}

func TestOverlappingDisconnectsScheduleOneDial(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, b, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Open); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Disconnected); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		b.Publish(bus.Event{
			Kind:    bus.KindDisconnected,
			Payload: wa.DisconnectInfo{Recoverable: true},
		})
	}

	waitUntil(t, func() bool { return link.connectCount() == 2 })
	time.Sleep(100 * time.Millisecond)
	if got := link.connectCount(); got != 2 {
		t.Errorf("connects = %d, want 2", got)
	}
}

func TestNoReconnectAfterLoggedOut(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, b, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.LoggedOut); err != nil {
		t.Fatal(err)
	}
	b.Publish(bus.Event{Kind: bus.KindLoggedOut, Payload: wa.DisconnectInfo{Recoverable: false}})

	waitUntil(t, func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return link.purges == 1
	})
	time.Sleep(100 * time.Millisecond)
	if got := link.connectCount(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
}

func TestIngestAppliesLiveMessages(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, b, _ := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	b.Publish(bus.Event{Kind: bus.KindMessage, Payload: &wa.ParsedMessage{
		Kind:      wa.ParsedNewMessage,
		ChatID:    "a@s.whatsapp.net",
		MsgID:     "M1",
		SenderID:  "a@s.whatsapp.net",
		Timestamp: 1000,
		Body:      "hi",
		Type:      "text",
	}})

	waitUntil(t, func() bool {
		return s.Store().GetMessage("a@s.whatsapp.net", "M1") != nil
	})
	chat := s.Store().GetChat("a@s.whatsapp.net")
	if chat == nil || chat.UnreadCount != 1 {
		t.Errorf("unexpected chat: %+v", chat)
	}
}

func TestSendTextRecordsOutgoing(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Open); err != nil {
		t.Fatal(err)
	}

	rec, err := s.SendText(context.Background(), "b@s.whatsapp.net", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.FromMe || rec.Status != convstore.StatusSent || rec.Body != "hello" {
		t.Errorf("unexpected record: %+v", rec)
	}

	stored := s.Store().GetMessage("b@s.whatsapp.net", rec.ID)
	if stored == nil {
		t.Fatal("outgoing message not stored")
	}
	chat := s.Store().GetChat("b@s.whatsapp.net")
	if chat == nil {
		t.Fatal("chat not created")
	}
	if chat.UnreadCount != 0 {
		t.Errorf("own message must not count unread, got %d", chat.UnreadCount)
	}
}

func TestCommandsRequireOpenConnection(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, _ := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SendText(context.Background(), "b@s.whatsapp.net", "x", ""); err == nil {
		t.Error("expected error while not open")
	}
	if err := s.React(context.Background(), "b@s.whatsapp.net", "M1", "👍"); err == nil {
		t.Error("expected error while not open")
	}
}

func TestMarkReadClearsUnread(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Open); err != nil {
		t.Fatal(err)
	}

	s.Store().ApplyLiveMessage(&convstore.Message{
		ID: "IN1", ChatID: "a@s.whatsapp.net", Timestamp: 1000,
		Direction: "incoming", Status: convstore.StatusDelivered,
	}, true)

	if err := s.MarkRead(context.Background(), "a@s.whatsapp.net", nil); err != nil {
		t.Fatal(err)
	}
	link.mu.Lock()
	marked := len(link.markedRead)
	link.mu.Unlock()
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}
	if chat := s.Store().GetChat("a@s.whatsapp.net"); chat.UnreadCount != 0 {
		t.Errorf("unread = %d", chat.UnreadCount)
	}
}

func TestReactAppliesLocally(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Open); err != nil {
		t.Fatal(err)
	}

	s.Store().ApplyLiveMessage(&convstore.Message{
		ID: "M1", ChatID: "a@s.whatsapp.net", Timestamp: 1000,
	}, false)

	if err := s.React(context.Background(), "a@s.whatsapp.net", "M1", "👍"); err != nil {
		t.Fatal(err)
	}
	m := s.Store().GetMessage("a@s.whatsapp.net", "M1")
	if m.Reactions["5511999999999@s.whatsapp.net"] != "👍" {
		t.Errorf("reactions = %v", m.Reactions)
	}

	if err := s.React(context.Background(), "a@s.whatsapp.net", "GONE", "👍"); err == nil {
		t.Error("expected error for unknown message")
	}
}

func TestRestartPurgesCredentials(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, machine := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Open); err != nil {
		t.Fatal(err)
	}

	if err := s.Restart(context.Background()); err != nil {
		t.Fatal(err)
	}
	link.mu.Lock()
	purges := link.purges
	link.mu.Unlock()
	if purges != 1 {
		t.Errorf("purges = %d, want 1", purges)
	}
	if got := link.connectCount(); got != 2 {
		t.Errorf("connects = %d, want 2", got)
	}
	if machine.Current() != status.Connecting {
		t.Errorf("state = %q", machine.Current())
	}
}

func TestCloseWithLogout(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, _ := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.Close(context.Background(), true)
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.logouts != 1 {
		t.Errorf("logouts = %d, want 1", link.logouts)
	}
	if link.disconnects == 0 {
		t.Error("expected disconnect")
	}
}

func TestStatusSnapshot(t *testing.T) {
	link := &fakeLink{loggedIn: true}
	s, _, _ := newTestSession(t, link)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Store().ApplyLiveMessage(&convstore.Message{
		ID: "M1", ChatID: "a@s.whatsapp.net", Timestamp: 1000,
	}, true)

	snap := s.Status()
	if snap.ID != "test" || snap.State != "connecting" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Chats != 1 || snap.Messages != 1 {
		t.Errorf("counts = %d/%d", snap.Chats, snap.Messages)
	}
	if snap.Phone != "5511999999999" {
		t.Errorf("phone = %q", snap.Phone)
	}
}
