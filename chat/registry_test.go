package chat

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollchat/models"
)

func TestPrivateName(t *testing.T) {
	assert.Equal(t, "alice+bob", PrivateName("alice", "bob"))
	assert.Equal(t, "alice+bob", PrivateName("bob", "alice"))
}

func TestJoinMainSnapshot(t *testing.T) {
	r := NewRegistry("main", 20)

	r.JoinMain("alice")
	for i := 0; i < 25; i++ {
		_, err := r.AppendMain("alice", fmt.Sprintf("message %d", i+1))
		require.NoError(t, err)
	}

	snapshot := r.JoinMain("bob")
	require.Len(t, snapshot, 20)
	assert.Equal(t, int64(6), snapshot[0].Seq)
	assert.Equal(t, int64(25), snapshot[19].Seq)

	// The snapshot was delivered, so the first poll is empty.
	unread, err := r.MessagesSince("bob", "main")
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestJoinMainEmptyChat(t *testing.T) {
	r := NewRegistry("main", 20)

	snapshot := r.JoinMain("alice")
	assert.Empty(t, snapshot)

	unread, err := r.MessagesSince("alice", "main")
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestMessagesSinceBatching(t *testing.T) {
	r := NewRegistry("main", 20)
	r.JoinMain("alice")
	r.JoinMain("bob")

	for i := 0; i < 30; i++ {
		_, err := r.AppendMain("alice", fmt.Sprintf("message %d", i+1))
		require.NoError(t, err)
	}

	first, err := r.MessagesSince("bob", "main")
	require.NoError(t, err)
	require.Len(t, first, 20)
	assert.Equal(t, int64(1), first[0].Seq)
	assert.Equal(t, int64(20), first[19].Seq)

	second, err := r.MessagesSince("bob", "main")
	require.NoError(t, err)
	require.Len(t, second, 10)
	assert.Equal(t, int64(21), second[0].Seq)
	assert.Equal(t, int64(30), second[9].Seq)

	third, err := r.MessagesSince("bob", "main")
	require.NoError(t, err)
	assert.Empty(t, third)

	// Idempotent when nothing is new.
	fourth, err := r.MessagesSince("bob", "main")
	require.NoError(t, err)
	assert.Empty(t, fourth)
}

func TestConcurrentAppendSequenceNumbers(t *testing.T) {
	const workers = 10
	const perWorker = 25

	r := NewRegistry("main", 20)
	r.JoinMain("alice")

	seqs := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				msg, err := r.AppendMain("alice", "hello")
				if err != nil {
					t.Error(err)
					return
				}
				seqs <- msg.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	var got []int64
	for seq := range seqs {
		got = append(got, seq)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	// Exactly 1..count, no duplicates, no gaps.
	require.Len(t, got, workers*perWorker)
	for i, seq := range got {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestAppendPrivateSharedLog(t *testing.T) {
	r := NewRegistry("main", 20)

	first, err := r.AppendPrivate("alice", "bob", "hi bob")
	require.NoError(t, err)
	assert.Equal(t, "alice+bob", first.Chat)
	assert.Equal(t, int64(1), first.Seq)

	// Initiated from the other side, same chat, same log.
	second, err := r.AppendPrivate("bob", "alice", "hi alice")
	require.NoError(t, err)
	assert.Equal(t, "alice+bob", second.Chat)
	assert.Equal(t, int64(2), second.Seq)

	unread, err := r.MessagesSince("bob", "alice+bob")
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, "hi bob", unread[0].Body)
	assert.Equal(t, "hi alice", unread[1].Body)
}

func TestMessagesSinceNotAMember(t *testing.T) {
	r := NewRegistry("main", 20)

	_, err := r.AppendPrivate("alice", "bob", "secret")
	require.NoError(t, err)

	_, err = r.MessagesSince("carol", "alice+bob")
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestMessagesSinceUnknownChat(t *testing.T) {
	r := NewRegistry("main", 20)

	_, err := r.MessagesSince("alice", "nope")
	assert.ErrorIs(t, err, ErrUnknownChat)
}

func TestAppendUnknownChatAndNonMember(t *testing.T) {
	r := NewRegistry("main", 20)

	_, err := r.Append("nope", "alice", "hello")
	assert.ErrorIs(t, err, ErrUnknownChat)

	_, err = r.Append("main", "ghost", "hello")
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestSnapshotLastN(t *testing.T) {
	r := NewRegistry("main", 20)
	r.JoinMain("alice")
	for i := 0; i < 5; i++ {
		_, err := r.AppendMain("alice", fmt.Sprintf("message %d", i+1))
		require.NoError(t, err)
	}

	snapshot, err := r.SnapshotLastN("main", 3)
	require.NoError(t, err)
	require.Len(t, snapshot, 3)
	assert.Equal(t, int64(3), snapshot[0].Seq)
	assert.Equal(t, int64(5), snapshot[2].Seq)

	// Read-only: alice's unread set is untouched.
	unread, err := r.MessagesSince("alice", "main")
	require.NoError(t, err)
	assert.Len(t, unread, 5)
}

func TestStatus(t *testing.T) {
	r := NewRegistry("main", 20)
	r.JoinMain("bob")
	r.JoinMain("alice")
	_, err := r.AppendPrivate("alice", "bob", "hi")
	require.NoError(t, err)

	infos := r.Status("alice")
	require.Len(t, infos, 2)
	assert.Equal(t, "alice+bob", infos[0].Name)
	assert.Equal(t, []string{"alice", "bob"}, infos[0].Members)
	assert.Equal(t, "main", infos[1].Name)
	assert.Equal(t, []string{"alice", "bob"}, infos[1].Members)

	assert.Empty(t, r.Status("carol"))
}

func TestExportRestore(t *testing.T) {
	r := NewRegistry("main", 20)
	r.JoinMain("alice")
	r.JoinMain("bob")
	for i := 0; i < 3; i++ {
		_, err := r.AppendMain("alice", fmt.Sprintf("message %d", i+1))
		require.NoError(t, err)
	}
	_, err := r.AppendPrivate("alice", "bob", "psst")
	require.NoError(t, err)

	// bob has read one of the three main messages.
	restoredBobCursor := int64(1)
	states := r.Export()
	for i := range states {
		if states[i].Name == "main" {
			states[i].Cursors["bob"] = restoredBobCursor
		}
	}

	fresh := NewRegistry("main", 20)
	fresh.Restore(states)

	unread, err := fresh.MessagesSince("bob", "main")
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, int64(2), unread[0].Seq)

	// Sequence numbering continues past the restored log.
	msg, err := fresh.AppendMain("alice", "after restart")
	require.NoError(t, err)
	assert.Equal(t, int64(4), msg.Seq)

	private, err := fresh.MessagesSince("bob", "alice+bob")
	require.NoError(t, err)
	require.Len(t, private, 1)
	assert.Equal(t, "psst", private[0].Body)
}

func TestRestoredStatePreservesMessages(t *testing.T) {
	state := models.ChatState{
		Name:     "main",
		Kind:     KindMain,
		Members:  []string{"alice"},
		Messages: []models.Message{{Chat: "main", Seq: 1, Sender: "alice", Body: "hello"}},
		Cursors:  map[string]int64{},
	}

	r := NewRegistry("main", 20)
	r.Restore([]models.ChatState{state})

	unread, err := r.MessagesSince("alice", "main")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "hello", unread[0].Body)
}
