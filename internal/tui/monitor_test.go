package tui

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/archivist/internal/events"
)

func event(t *testing.T, id int64, typ string, p events.Payload, at time.Time) eventMsg {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return eventMsg(events.Event{ID: id, Type: typ, At: at, Data: data})
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestMonitorFoldsArchiveLifecycle(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost:8080", "token")
	m = step(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	base := events.Payload{ArchiveID: "a1b2c3d4e5f6", SiteID: "bio101"}

	m = step(t, m, event(t, 1, events.ArchiveStarted, base, at))
	p := base
	p.Tool = "resources"
	m = step(t, m, event(t, 2, events.ToolStarted, p, at))

	rows := m.table.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "bio101", rows[0][1])
	assert.Equal(t, "a1b2c3d4", rows[0][2])
	assert.Equal(t, "STARTED", rows[0][3])
	assert.Equal(t, "resources", rows[0][4])

	m = step(t, m, event(t, 3, events.ToolCompleted, p, at.Add(time.Second)))
	p.Tool = "forum"
	p.Error = "boom"
	m = step(t, m, event(t, 4, events.ToolFailed, p, at.Add(2*time.Second)))
	done := base
	done.Status = "INCOMPLETE"
	m = step(t, m, event(t, 5, events.ArchiveFinished, done, at.Add(3*time.Second)))

	rows = m.table.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "INCOMPLETE", rows[0][3])
	assert.Equal(t, "", rows[0][4])
	assert.Equal(t, "2/1!", rows[0][5])
	assert.Equal(t, "3s", rows[0][6])
	assert.Equal(t, int64(5), m.lastID)
	assert.Len(t, m.log, 5)
	assert.Contains(t, m.log[1], "forum: boom")
}

func TestMonitorOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost:8080", "")
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m = step(t, m, event(t, 1, events.ArchiveStarted, events.Payload{ArchiveID: "old", SiteID: "s1"}, at))
	m = step(t, m, event(t, 2, events.ArchiveStarted, events.Payload{ArchiveID: "new", SiteID: "s2"}, at.Add(time.Minute)))

	rows := m.table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0][2])
	assert.Equal(t, "old", rows[1][2])
}

func TestMonitorIgnoresUndecodableEvents(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost:8080", "")
	m = step(t, m, eventMsg(events.Event{ID: 7, Type: "noise", Data: json.RawMessage(`not json`)}))
	assert.Empty(t, m.table.Rows())
	assert.Equal(t, int64(7), m.lastID)
}

func TestMonitorConnectionState(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost:8080", "")
	m = step(t, m, event(t, 1, events.ArchiveStarted, events.Payload{ArchiveID: "x", SiteID: "s"}, time.Now()))
	assert.True(t, m.connected)

	m = step(t, m, sseDisconnectedMsg{err: errors.New("connection reset")})
	assert.False(t, m.connected)
	require.Error(t, m.lastErr)

	m = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, m.View(), "DISCONNECTED")
	assert.Contains(t, m.View(), "connection reset")
}

func TestMonitorQuit(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost:8080", "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestReadSSE(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 3",
		"event: archive.started",
		`data: {"archive_id":"a","site_id":"s"}`,
		"",
		"id: 4",
		"event: archive.finished",
		`data: {"archive_id":"a","site_id":"s","status":"COMPLETE"}`,
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	require.NoError(t, readSSE(bufio.NewScanner(strings.NewReader(stream)), ch))
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, events.ArchiveStarted, got[0].Type)
	p, err := got[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", p.Status)
}
