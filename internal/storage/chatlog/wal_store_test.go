package chatlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

func newTestStore(t *testing.T, dir string, limit int) *WALStore {
	t.Helper()
	s, err := NewWALStore(dir, limit, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestWALStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 10)
	defer s.Close()

	msg, err := s.Append("bitcoin", domain.ChatMessage{Text: "gm", UserID: "u1", UserName: "alice"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	require.NotNil(t, msg.Timestamp)
	assert.Equal(t, "gm", msg.Text)
	assert.Equal(t, []domain.ChatMessage{msg}, s.Recent("bitcoin", 100))
	assert.Empty(t, s.Recent("ethereum", 100))
}

func TestWALStore_TimestampsStrictlyIncreasePerRoom(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 10)
	defer s.Close()

	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	var prev time.Time
	for i := 0; i < 3; i++ {
		msg, err := s.Append("bitcoin", domain.ChatMessage{Text: fmt.Sprint(i)})
		require.NoError(t, err)
		assert.True(t, msg.Timestamp.After(prev))
		prev = *msg.Timestamp
	}

	// other rooms have their own clock
	other, err := s.Append("ethereum", domain.ChatMessage{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, frozen, *other.Timestamp)
}

func TestWALStore_RecentIsCappedAndAscending(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 5)
	defer s.Close()

	for i := 0; i < 8; i++ {
		_, err := s.Append("bitcoin", domain.ChatMessage{Text: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	recent := s.Recent("bitcoin", 100)
	require.Len(t, recent, 5)
	for i, m := range recent {
		assert.Equal(t, fmt.Sprint(i+3), m.Text)
	}

	last2 := s.Recent("bitcoin", 2)
	assert.Equal(t, "6", last2[0].Text)
	assert.Equal(t, "7", last2[1].Text)
}

func TestWALStore_ReloadRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 10)

	var written []domain.ChatMessage
	for i := 0; i < 3; i++ {
		msg, err := s.Append("solana", domain.ChatMessage{Text: fmt.Sprint(i), UserID: "u", UserName: "bob"})
		require.NoError(t, err)
		written = append(written, msg)
	}
	_, err := s.Append("bitcoin", domain.ChatMessage{Text: "other room"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dir, 10)
	defer reopened.Close()

	got := reopened.Recent("solana", 100)
	require.Len(t, got, 3)
	for i := range written {
		assert.Equal(t, written[i].ID, got[i].ID)
		assert.Equal(t, written[i].Text, got[i].Text)
		assert.True(t, written[i].Timestamp.Equal(*got[i].Timestamp))
	}
	assert.Len(t, reopened.Recent("bitcoin", 100), 1)

	// the clock continues after the persisted messages
	reopened.now = func() time.Time { return time.Unix(0, 0) }
	next, err := reopened.Append("solana", domain.ChatMessage{Text: "later"})
	require.NoError(t, err)
	assert.True(t, next.Timestamp.After(*got[2].Timestamp))
}

func TestWALStore_RejectsEmptyRoom(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 10)
	defer s.Close()

	_, err := s.Append("", domain.ChatMessage{Text: "x"})
	assert.Error(t, err)
}

func TestWALStore_NilReceiver(t *testing.T) {
	var s *WALStore
	_, err := s.Append("bitcoin", domain.ChatMessage{})
	assert.Error(t, err)
	assert.Nil(t, s.Recent("bitcoin", 1))
	assert.Zero(t, s.CurrentIndex())
}
