// Package chat owns the chat set: the permanent main chat plus lazily
// created 1-to-1 private chats, each with its membership, append-only
// message log, and per-user delivery cursors. All state of one chat sits
// behind that chat's mutex, so sequence assignment and the read-then-advance
// of a poll are single critical sections. No operation ever holds two chat
// locks, so lock ordering is registry -> chat and nothing can deadlock.
package chat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"pollchat/models"
)

var (
	ErrUnknownChat = errors.New("unknown chat")
	ErrNotAMember  = errors.New("not a member of this chat")
)

const (
	KindMain    = "main"
	KindPrivate = "private"
)

type Registry struct {
	mu       sync.RWMutex
	chats    map[string]*chatRoom
	mainName string
	batch    int
}

type chatRoom struct {
	name string
	kind string

	mu       sync.Mutex
	members  map[string]struct{}
	messages []models.Message
	lastSeq  int64
	cursors  map[string]int64
}

func newRoom(name, kind string) *chatRoom {
	return &chatRoom{
		name:    name,
		kind:    kind,
		members: make(map[string]struct{}),
		cursors: make(map[string]int64),
	}
}

// NewRegistry creates the registry with the main chat already present.
func NewRegistry(mainName string, batchSize int) *Registry {
	return &Registry{
		chats:    map[string]*chatRoom{mainName: newRoom(mainName, KindMain)},
		mainName: mainName,
		batch:    batchSize,
	}
}

func (r *Registry) MainName() string {
	return r.mainName
}

func (r *Registry) get(name string) (*chatRoom, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.chats[name]
	return room, ok
}

// JoinMain adds the user to the main chat and returns the snapshot of the
// most recent messages (up to the batch size). The join, the snapshot and
// the cursor placement happen in one critical section: the snapshot is
// delivered in the connect response, so the cursor lands past everything in
// the log and the next poll starts empty. Idempotent for repeat connects.
func (r *Registry) JoinMain(login string) []models.Message {
	room, _ := r.get(r.mainName)

	room.mu.Lock()
	defer room.mu.Unlock()

	room.members[login] = struct{}{}
	snapshot := lastN(room.messages, r.batch)
	room.cursors[login] = room.lastSeq
	return snapshot
}

// AppendMain appends a message to the main chat.
func (r *Registry) AppendMain(sender, body string) (models.Message, error) {
	return r.Append(r.mainName, sender, body)
}

// Append appends a message to an existing chat, assigning the next sequence
// number. The sender must be a member.
func (r *Registry) Append(name, sender, body string) (models.Message, error) {
	room, ok := r.get(name)
	if !ok {
		return models.Message{}, ErrUnknownChat
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.members[sender]; !ok {
		return models.Message{}, ErrNotAMember
	}
	return room.append(sender, body), nil
}

// append assigns seq = lastSeq+1 and stores the message. Caller holds the
// room lock.
func (room *chatRoom) append(sender, body string) models.Message {
	room.lastSeq++
	msg := models.Message{
		Chat:      room.name,
		Seq:       room.lastSeq,
		Sender:    sender,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
	room.messages = append(room.messages, msg)
	return msg
}

// PrivateName canonicalizes the pair so both participants address the same
// chat: logins sorted lexicographically, joined with "+".
func PrivateName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "+" + b
}

// AppendPrivate appends to the private chat between sender and recipient,
// creating it on first use with exactly the two participants as members.
func (r *Registry) AppendPrivate(sender, recipient, body string) (models.Message, error) {
	name := PrivateName(sender, recipient)

	r.mu.Lock()
	room, ok := r.chats[name]
	if !ok {
		room = newRoom(name, KindPrivate)
		room.members[sender] = struct{}{}
		room.members[recipient] = struct{}{}
		r.chats[name] = room
	}
	r.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.append(sender, body), nil
}

// SnapshotLastN returns up to n most recent messages in ascending sequence
// order without touching any cursor.
func (r *Registry) SnapshotLastN(name string, n int) ([]models.Message, error) {
	room, ok := r.get(name)
	if !ok {
		return nil, ErrUnknownChat
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return lastN(room.messages, n), nil
}

// MessagesSince returns the user's unread messages in ascending sequence
// order, capped at the batch size, and advances the cursor to the highest
// sequence number returned. When more than a batch is unread, the oldest
// batch is returned and the rest stays unread for the next poll. An empty
// result is a normal outcome, not an error.
func (r *Registry) MessagesSince(login, name string) ([]models.Message, error) {
	room, ok := r.get(name)
	if !ok {
		return nil, ErrUnknownChat
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.members[login]; !ok {
		return nil, ErrNotAMember
	}

	// The log is contiguous from seq 1, so the cursor doubles as an index.
	start := int(room.cursors[login])
	if start > len(room.messages) {
		start = len(room.messages)
	}
	end := start + r.batch
	if end > len(room.messages) {
		end = len(room.messages)
	}

	unread := make([]models.Message, end-start)
	copy(unread, room.messages[start:end])

	if len(unread) > 0 {
		room.cursors[login] = unread[len(unread)-1].Seq
	}
	return unread, nil
}

// Status lists the chats the user belongs to, each with its member logins
// sorted for stable output.
func (r *Registry) Status(login string) []models.ChatInfo {
	r.mu.RLock()
	rooms := make([]*chatRoom, 0, len(r.chats))
	for _, room := range r.chats {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	var infos []models.ChatInfo
	for _, room := range rooms {
		room.mu.Lock()
		if _, ok := room.members[login]; ok {
			members := make([]string, 0, len(room.members))
			for member := range room.members {
				members = append(members, member)
			}
			sort.Strings(members)
			infos = append(infos, models.ChatInfo{Name: room.name, Members: members})
		}
		room.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Export returns the full registry state for the snapshot store.
func (r *Registry) Export() []models.ChatState {
	r.mu.RLock()
	rooms := make([]*chatRoom, 0, len(r.chats))
	for _, room := range r.chats {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	states := make([]models.ChatState, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		state := models.ChatState{
			Name:     room.name,
			Kind:     room.kind,
			Members:  make([]string, 0, len(room.members)),
			Messages: append([]models.Message(nil), room.messages...),
			Cursors:  make(map[string]int64, len(room.cursors)),
		}
		for member := range room.members {
			state.Members = append(state.Members, member)
		}
		sort.Strings(state.Members)
		for login, seq := range room.cursors {
			state.Cursors[login] = seq
		}
		room.mu.Unlock()
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Restore loads previously exported chats. Sequence numbering continues
// from the highest restored seq, so monotonicity survives a restart.
func (r *Registry) Restore(states []models.ChatState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, state := range states {
		room, ok := r.chats[state.Name]
		if !ok {
			room = newRoom(state.Name, state.Kind)
			r.chats[state.Name] = room
		}
		room.mu.Lock()
		for _, member := range state.Members {
			room.members[member] = struct{}{}
		}
		room.messages = append([]models.Message(nil), state.Messages...)
		room.lastSeq = 0
		if n := len(room.messages); n > 0 {
			room.lastSeq = room.messages[n-1].Seq
		}
		for login, seq := range state.Cursors {
			room.cursors[login] = seq
		}
		room.mu.Unlock()
	}
}

func lastN(messages []models.Message, n int) []models.Message {
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}
