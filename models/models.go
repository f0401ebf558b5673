package models

import "time"

type User struct {
	Login        string
	PasswordHash string
}

type Message struct {
	Chat      string
	Seq       int64
	Sender    string
	Body      string
	Timestamp time.Time
}

// ChatInfo is the membership view returned by the status endpoint.
type ChatInfo struct {
	Name    string
	Members []string
}

// ChatState is the full serializable state of one chat: its message log with
// assigned sequence numbers and the per-user delivery cursors. Used by the
// snapshot store to rebuild the registry without breaking seq monotonicity.
type ChatState struct {
	Name     string
	Kind     string // "main" or "private"
	Members  []string
	Messages []Message
	Cursors  map[string]int64
}
