package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natfailover/pkg/events"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func event(i int, typ events.EventType) *events.Event {
	return &events.Event{
		ID:        fmt.Sprintf("evt-%d", i),
		Type:      typ,
		Timestamp: epoch.Add(time.Duration(i) * time.Second),
		Node:      "a",
		Message:   fmt.Sprintf("event %d", i),
	}
}

func ids(list []*events.Event) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}

func TestAppendAndList(t *testing.T) {
	j, err := NewBoltJournal(t.TempDir(), BoltOptions{})
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(event(i, events.EventPeerTransition)))
	}

	list, err := j.List(ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-0", "evt-1", "evt-2", "evt-3", "evt-4"}, ids(list))
	assert.Equal(t, "a", list[0].Node)
	assert.True(t, epoch.Equal(list[0].Timestamp))
}

func TestListFilters(t *testing.T) {
	j, err := NewBoltJournal(t.TempDir(), BoltOptions{})
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(event(0, events.EventPeerTransition)))
	require.NoError(t, j.Append(event(1, events.EventRouteChanged)))
	require.NoError(t, j.Append(event(2, events.EventPeerTransition)))
	require.NoError(t, j.Append(event(3, events.EventTakeoverBlocked)))

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"limit keeps newest", ListOptions{Limit: 2}, []string{"evt-2", "evt-3"}},
		{"since", ListOptions{Since: epoch.Add(2 * time.Second)}, []string{"evt-2", "evt-3"}},
		{"types", ListOptions{Types: []events.EventType{events.EventPeerTransition}}, []string{"evt-0", "evt-2"}},
		{"types and limit", ListOptions{Limit: 1, Types: []events.EventType{events.EventPeerTransition}}, []string{"evt-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := j.List(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(list))
		})
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	j, err := NewBoltJournal(dir, BoltOptions{Retention: 3})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(event(i, events.EventRouteChanged)))
	}

	list, err := j.List(ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-2", "evt-3", "evt-4"}, ids(list))
	require.NoError(t, j.Close())

	// Reopening picks up the stored count
	j, err = NewBoltJournal(dir, BoltOptions{Retention: 3})
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Append(event(5, events.EventRouteChanged)))

	count, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	list, err = j.List(ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-3", "evt-4", "evt-5"}, ids(list))
}

func TestReadOnly(t *testing.T) {
	dir := t.TempDir()

	_, err := NewBoltJournal(dir, BoltOptions{ReadOnly: true})
	assert.ErrorIs(t, err, ErrJournalMissing)

	j, err := NewBoltJournal(dir, BoltOptions{})
	require.NoError(t, err)
	require.NoError(t, j.Append(event(0, events.EventControllerStarted)))
	require.NoError(t, j.Close())

	ro, err := NewBoltJournal(dir, BoltOptions{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	list, err := ro.List(ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Error(t, ro.Append(event(1, events.EventControllerStarted)))
}

func TestReadOnlyWhileWriterOpen(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewBoltJournal(dir, BoltOptions{})
	require.NoError(t, err)
	defer writer.Close()

	_, err = NewBoltJournal(dir, BoltOptions{ReadOnly: true, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJournalLocked)
}

func TestConsume(t *testing.T) {
	j, err := NewBoltJournal(t.TempDir(), BoltOptions{})
	require.NoError(t, err)
	defer j.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Consume(ctx, sub, zerolog.Nop())
		close(done)
	}()

	broker.Publish(event(0, events.EventPeerTransition))
	broker.Publish(event(1, events.EventRouteChanged))

	require.Eventually(t, func() bool {
		n, err := j.Count()
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
