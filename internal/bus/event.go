package bus

import "time"

// Event represents a domain event published on a session's bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the WhatsApp event handler ("wa." namespace)
// and consumed by the session ingest loop.
const (
	KindMessage      = "wa.message"
	KindHistoryBatch = "wa.history_batch"
	KindReceipt      = "wa.receipt"
	KindReaction     = "wa.reaction"
	KindEdit         = "wa.edit"
	KindRevoke       = "wa.revoke"
	KindPresence     = "wa.presence"
)

// Event kinds for connection lifecycle ("conn." namespace).
const (
	KindConnected    = "conn.connected"
	KindDisconnected = "conn.disconnected"
	KindLoggedOut    = "conn.logged_out"
	KindQRCode       = "conn.qr"
	KindPairSuccess  = "conn.pair_success"
)
