package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(ToolFailed, Payload{ArchiveID: "a1", SiteID: "s1", Tool: "forum", Error: "boom"})

	select {
	case ev := <-ch:
		assert.Equal(t, ToolFailed, ev.Type)
		p, err := ev.Decode()
		require.NoError(t, err)
		assert.Equal(t, "forum", p.Tool)
		assert.Equal(t, "boom", p.Error)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRingKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(ArchiveStarted, nil)
	}
	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)

	assert.Len(t, h.SnapshotSince(4), 1)
	assert.JSONEq(t, "{}", string(snap[0].Data))
}

func TestCancelClosesChannelOnce(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	h.Publish(ArchiveFinished, nil)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Publish(ArchiveStarted, Payload{}) })
}
