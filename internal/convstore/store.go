// Package convstore holds one session's volatile conversation read model:
// the chat index, per-chat message logs, presence/receipt side-tables and
// the sequence-numbered update log. It is rebuilt from the network's
// history replay on every (re)connection and is never persisted.
//
// Locking: a single RWMutex guards everything. All mutation happens on
// the session's ingest goroutine; HTTP readers take the read side and
// receive copies, never internal pointers.
package convstore

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DeltaBatchLimit bounds how many update entries one Delta call returns.
const DeltaBatchLimit = 200

// Store is the source of truth for one session's chats and messages.
type Store struct {
	mu sync.RWMutex

	chats    map[string]*Chat
	messages map[string][]*Message          // per chat, insertion order
	index    map[string]map[string]*Message // chatID -> msgID
	presence map[string]map[string]Presence // chatID -> participant
	receipts map[string]map[string]Receipt  // chatID -> msgID

	updates []UpdateEntry
	seq     uint64

	maxPerChat int
	maxUpdates int
}

// New creates an empty store. maxPerChat bounds each chat's message log
// and maxUpdates bounds the update log; both trim oldest-first once
// exceeded, which is the documented retention boundary for clients that
// poll too rarely.
func New(maxPerChat, maxUpdates int) *Store {
	if maxPerChat <= 0 {
		maxPerChat = 3000
	}
	if maxUpdates <= 0 {
		maxUpdates = 5000
	}
	return &Store{
		chats:      make(map[string]*Chat),
		messages:   make(map[string][]*Message),
		index:      make(map[string]map[string]*Message),
		presence:   make(map[string]map[string]Presence),
		receipts:   make(map[string]map[string]Receipt),
		maxPerChat: maxPerChat,
		maxUpdates: maxUpdates,
	}
}

// ApplyHistoryBatch bulk-seeds the store from a history replay. Safe to
// call repeatedly (e.g. after a reconnect): chats merge field-by-field
// without regressing last activity or unread count, messages merge by id.
func (s *Store) ApplyHistoryBatch(chats []*Chat, msgs []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chats {
		if c == nil || c.ID == "" {
			continue
		}
		existing, ok := s.chats[c.ID]
		if !ok {
			cp := *c
			s.chats[c.ID] = &cp
			continue
		}
		if c.Name != "" {
			existing.Name = c.Name
		}
		if c.LastActivity > existing.LastActivity {
			existing.LastActivity = c.LastActivity
			if c.LastPreview != "" {
				existing.LastPreview = c.LastPreview
			}
		}
		if c.UnreadCount > existing.UnreadCount {
			existing.UnreadCount = c.UnreadCount
		}
		existing.IsGroup = c.IsGroup
	}

	for _, m := range msgs {
		if m == nil || m.ID == "" || m.ChatID == "" {
			continue
		}
		s.upsertMessageLocked(m)
	}

	s.appendUpdateLocked(UpdateHistorySync, "", map[string]int{
		"chats":    len(chats),
		"messages": len(msgs),
	})
}

// ApplyLiveMessage ingests one real-time message. notify marks the
// delivery class: unread counts only move for incoming notify messages,
// never for silent background sync. Returns true when the message was
// new rather than a merge.
func (s *Store) ApplyLiveMessage(m *Message, notify bool) bool {
	if m == nil || m.ID == "" || m.ChatID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := s.upsertMessageLocked(m)

	chat, ok := s.chats[m.ChatID]
	if !ok {
		chat = &Chat{
			ID:      m.ChatID,
			Name:    m.SenderName,
			IsGroup: isGroupID(m.ChatID),
		}
		if chat.Name == "" {
			chat.Name = m.ChatID
		}
		s.chats[m.ChatID] = chat
	}
	if m.Timestamp >= chat.LastActivity {
		chat.LastActivity = m.Timestamp
		chat.LastPreview = previewOf(m)
	}
	if inserted && !m.FromMe && notify {
		chat.UnreadCount++
	}

	// A repeated ingest is a pure merge; only a fresh insert is a delta.
	if inserted {
		s.appendUpdateLocked(UpdateNewMessage, m.ChatID, m.clone())
	}
	return inserted
}

// ApplyStatusUpdate advances a message's delivery status. A lower-ranked
// status never overwrites a higher one. Records the receipt side-table
// entry regardless.
func (s *Store) ApplyStatusUpdate(chatID, msgID, sender string, st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if s.receipts[chatID] == nil {
		s.receipts[chatID] = make(map[string]Receipt)
	}
	s.receipts[chatID][msgID] = Receipt{Sender: sender, Status: st, Timestamp: now}

	m := s.lookupLocked(chatID, msgID)
	if m == nil {
		return false
	}
	if statusRank[st] <= statusRank[m.Status] {
		return false
	}
	m.Status = st
	s.appendUpdateLocked(UpdateStatus, chatID, map[string]string{
		"id":     msgID,
		"status": string(st),
	})
	return true
}

// ApplyReaction records a reaction, last-write-wins per sender. An empty
// emoji removes the sender's previous reaction.
func (s *Store) ApplyReaction(chatID, msgID, sender, emoji string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.lookupLocked(chatID, msgID)
	if m == nil {
		return false
	}
	if emoji == "" {
		if m.Reactions == nil {
			return false
		}
		delete(m.Reactions, sender)
	} else {
		if m.Reactions == nil {
			m.Reactions = make(map[string]string)
		}
		m.Reactions[sender] = emoji
	}
	s.appendUpdateLocked(UpdateReaction, chatID, map[string]string{
		"id":     msgID,
		"sender": sender,
		"emoji":  emoji,
	})
	return true
}

// ApplyEdit replaces a message body and marks it edited.
func (s *Store) ApplyEdit(chatID, msgID, body string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.lookupLocked(chatID, msgID)
	if m == nil || m.Deleted {
		return false
	}
	m.Body = body
	m.Edited = true
	if chat, ok := s.chats[chatID]; ok && m.Timestamp >= chat.LastActivity {
		chat.LastPreview = previewOf(m)
	}
	s.appendUpdateLocked(UpdateEdit, chatID, map[string]string{
		"id":   msgID,
		"body": body,
	})
	return true
}

// ApplyDelete soft-deletes a message: body and media are cleared but the
// id stays resolvable for later events referencing it.
func (s *Store) ApplyDelete(chatID, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.lookupLocked(chatID, msgID)
	if m == nil {
		return false
	}
	m.Body = ""
	m.Media = nil
	m.MediaError = ""
	m.Deleted = true
	s.appendUpdateLocked(UpdateDelete, chatID, map[string]string{"id": msgID})
	return true
}

// AttachMedia patches a stored message with resolved media attributes.
func (s *Store) AttachMedia(chatID, msgID string, media Media) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.lookupLocked(chatID, msgID)
	if m == nil || m.Deleted {
		return false
	}
	cp := media
	m.Media = &cp
	m.MediaError = ""
	s.appendUpdateLocked(UpdateMedia, chatID, map[string]string{
		"id":  msgID,
		"url": media.URL,
	})
	return true
}

// MarkMediaFailed records a failed media fetch on the message. The
// caption/body stays; the URL stays null. Not retried.
func (s *Store) MarkMediaFailed(chatID, msgID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.lookupLocked(chatID, msgID)
	if m == nil {
		return false
	}
	m.MediaError = reason
	return true
}

// SetPresence records a participant's presence within a chat.
func (s *Store) SetPresence(chatID, participant string, p Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presence[chatID] == nil {
		s.presence[chatID] = make(map[string]Presence)
	}
	s.presence[chatID][participant] = p
}

// SetChatFlags applies pin/archive/mute flags to a chat. Nil fields are
// left untouched. Returns false for an unknown chat.
func (s *Store) SetChatFlags(chatID string, pinned, archived *bool, mutedUntil *int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return false
	}
	if pinned != nil {
		chat.Pinned = *pinned
	}
	if archived != nil {
		chat.Archived = *archived
	}
	if mutedUntil != nil {
		chat.MutedUntil = *mutedUntil
	}
	s.appendUpdateLocked(UpdateChatChanged, chatID, nil)
	return true
}

// ResetUnread zeroes a chat's unread count (after a mark-read ack).
func (s *Store) ResetUnread(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return false
	}
	chat.UnreadCount = 0
	s.appendUpdateLocked(UpdateChatChanged, chatID, nil)
	return true
}

// DeleteChat removes a chat and its messages entirely. The only path
// that physically removes messages.
func (s *Store) DeleteChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return false
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	delete(s.index, chatID)
	delete(s.presence, chatID)
	delete(s.receipts, chatID)
	s.appendUpdateLocked(UpdateChatDeleted, chatID, nil)
	return true
}

// ListChats returns chats ordered by last activity descending. cursor is
// the last activity of the previous page's final chat (pagination by
// value, not offset); 0 means first page. nextCursor is nil when the
// page is shorter than limit.
func (s *Store) ListChats(limit int, cursor int64) ([]Chat, *int64) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	all := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		all = append(all, *c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].LastActivity != all[j].LastActivity {
			return all[i].LastActivity > all[j].LastActivity
		}
		return all[i].ID < all[j].ID
	})

	if cursor > 0 {
		idx := sort.Search(len(all), func(i int) bool {
			return all[i].LastActivity < cursor
		})
		all = all[idx:]
	}
	if len(all) > limit {
		all = all[:limit]
	}

	var next *int64
	if len(all) == limit {
		ts := all[len(all)-1].LastActivity
		next = &ts
	}
	return all, next
}

// GetChat returns a copy of one chat, or nil when unknown.
func (s *Store) GetChat(chatID string) *Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// ListMessages returns a chat's messages newest-first, optionally
// bounded to strictly before a timestamp for backward scroll. hasMore is
// false once the page is shorter than limit.
func (s *Store) ListMessages(chatID string, limit int, before int64) ([]Message, bool) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	log := s.messages[chatID]
	msgs := make([]*Message, 0, len(log))
	for _, m := range log {
		if before > 0 && m.Timestamp >= before {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp > msgs[j].Timestamp
		}
		return msgs[i].ID > msgs[j].ID
	})
	hasMore := len(msgs) > limit
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m.clone()
	}
	s.mu.RUnlock()
	return out, hasMore
}

// GetMessage returns a copy of one message, or nil when unknown.
func (s *Store) GetMessage(chatID, msgID string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.lookupLocked(chatID, msgID)
	if m == nil {
		return nil
	}
	return m.clone()
}

// Delta returns update entries with seq > since, oldest first, at most
// DeltaBatchLimit per call. The returned seq is the highest seq included
// (or the log head when nothing newer exists); feeding it back in covers
// the whole log with no gaps and no duplicates, up to the retention
// bound.
func (s *Store) Delta(since uint64) ([]UpdateEntry, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.updates), func(i int) bool {
		return s.updates[i].Seq > since
	})
	pending := s.updates[idx:]
	if len(pending) > DeltaBatchLimit {
		pending = pending[:DeltaBatchLimit]
	}
	out := make([]UpdateEntry, len(pending))
	copy(out, pending)

	next := s.seq
	if len(out) > 0 {
		next = out[len(out)-1].Seq
	}
	return out, next
}

// Presences returns a copy of a chat's presence table.
func (s *Store) Presences(chatID string) map[string]Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Presence, len(s.presence[chatID]))
	for k, v := range s.presence[chatID] {
		out[k] = v
	}
	return out
}

// Counts returns the number of chats and stored messages.
func (s *Store) Counts() (chats, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats = len(s.chats)
	for _, log := range s.messages {
		messages += len(log)
	}
	return chats, messages
}

// upsertMessageLocked merges m into the chat's log by id. Returns true
// when a new record was inserted. Re-ingesting the same event is a pure
// merge: identical fields land in place, a higher status wins, resolved
// media and reactions survive.
func (s *Store) upsertMessageLocked(m *Message) bool {
	byID := s.index[m.ChatID]
	if byID == nil {
		byID = make(map[string]*Message)
		s.index[m.ChatID] = byID
	}

	if existing, ok := byID[m.ID]; ok {
		if m.Body != "" && !existing.Deleted {
			existing.Body = m.Body
		}
		if m.Type != "" {
			existing.Type = m.Type
		}
		if m.SenderName != "" {
			existing.SenderName = m.SenderName
		}
		if statusRank[m.Status] > statusRank[existing.Status] {
			existing.Status = m.Status
		}
		if m.Timestamp > 0 && existing.Timestamp == 0 {
			existing.Timestamp = m.Timestamp
		}
		if m.QuotedID != "" {
			existing.QuotedID = m.QuotedID
			existing.QuotedBody = m.QuotedBody
		}
		return false
	}

	cp := m.clone()
	if cp.Direction == "" {
		if cp.FromMe {
			cp.Direction = "outgoing"
		} else {
			cp.Direction = "incoming"
		}
	}
	if cp.Status == "" {
		cp.Status = StatusSent
	}
	byID[cp.ID] = cp
	s.messages[m.ChatID] = append(s.messages[m.ChatID], cp)
	s.trimMessagesLocked(m.ChatID)
	return true
}

func (s *Store) lookupLocked(chatID, msgID string) *Message {
	byID := s.index[chatID]
	if byID == nil {
		return nil
	}
	return byID[msgID]
}

func (s *Store) appendUpdateLocked(kind, chatID string, payload any) {
	s.seq++
	s.updates = append(s.updates, UpdateEntry{
		Seq:        s.seq,
		Kind:       kind,
		ChatID:     chatID,
		Payload:    payload,
		ObservedAt: time.Now().Unix(),
	})
	if len(s.updates) > s.maxUpdates {
		keep := s.maxUpdates * 3 / 5
		trimmed := make([]UpdateEntry, keep)
		copy(trimmed, s.updates[len(s.updates)-keep:])
		s.updates = trimmed
	}
}

// trimMessagesLocked drops the oldest messages once a chat's log exceeds
// its cap. Clients are expected to page frequently enough to stay within
// the retention window.
func (s *Store) trimMessagesLocked(chatID string) {
	log := s.messages[chatID]
	if len(log) <= s.maxPerChat {
		return
	}
	sort.Slice(log, func(i, j int) bool { return log[i].Timestamp < log[j].Timestamp })
	drop := log[:len(log)-s.maxPerChat]
	for _, m := range drop {
		delete(s.index[chatID], m.ID)
	}
	kept := make([]*Message, s.maxPerChat)
	copy(kept, log[len(log)-s.maxPerChat:])
	s.messages[chatID] = kept
}

func previewOf(m *Message) string {
	if m.Deleted {
		return ""
	}
	return truncate(m.Body, 100)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func isGroupID(chatID string) bool {
	return strings.HasSuffix(chatID, "@g.us")
}
