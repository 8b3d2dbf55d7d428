package wayfire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfmenu/internal/ipc"
	"wfmenu/internal/logging"
	"wfmenu/internal/metrics"
)

// fakeTransport feeds queued frames to the session and records what it sends.
type fakeTransport struct {
	sent    [][]byte
	inbound [][]byte
	sendErr error
	closed  bool
}

func (f *fakeTransport) Send(p []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	if f.closed || len(f.inbound) == 0 {
		return nil, io.EOF
	}
	p := f.inbound[0]
	f.inbound = f.inbound[1:]
	return p, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// recorder keeps a copy of every notification.
type recorder struct {
	calls []*View
}

func (r *recorder) FocusChanged(v *View) {
	r.calls = append(r.calls, v.Clone())
}

func newTestSession(t *testing.T) (*Session, *fakeTransport, *recorder) {
	t.Helper()
	tr := &fakeTransport{}
	rec := &recorder{}
	s := NewSession(tr, rec, logging.Discard())
	return s, tr, rec
}

func event(name string, id uint32, typ, title string) []byte {
	view := map[string]any{"id": id}
	if typ != "" {
		view["type"] = typ
	}
	if title != "" {
		view["title"] = title
	}
	b, _ := json.Marshal(map[string]any{"event": name, "view": view})
	return b
}

func okReply(value string) []byte {
	return []byte(fmt.Sprintf(`{"result":"ok","value":%q}`, value))
}

// answerAll replies to every pending request with a value derived from the
// property name.
func answerAll(s *Session) {
	for _, req := range s.queue.snapshot() {
		s.HandleMessage(okReply(fmt.Sprintf("%d:%s", req.viewID, req.property)))
	}
}

func TestMappedQueuesAllProperties(t *testing.T) {
	s, tr, rec := newTestSession(t)

	s.HandleMessage([]byte(`{"event":"view-mapped","view":{"id":5,"type":"toplevel"}}`))

	pending := s.queue.snapshot()
	require.Len(t, pending, 7)
	for i, p := range KnownProperties() {
		assert.Equal(t, ViewID(5), pending[i].viewID)
		assert.Equal(t, p, pending[i].property)
	}
	require.Len(t, tr.sent, 7)
	for i, p := range KnownProperties() {
		want, err := EncodeGetProperty(5, p)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(tr.sent[i]))
	}

	_, ok := s.Lookup(5)
	assert.True(t, ok)
	assert.Equal(t, NoView, s.Active())
	assert.Empty(t, rec.calls)
}

func TestFocusUnknownView(t *testing.T) {
	s, _, rec := newTestSession(t)

	s.HandleMessage([]byte(`{"event":"view-focused","view":{"id":5,"type":"toplevel","title":"Editor"}}`))

	assert.Equal(t, 7, s.Pending())
	v, ok := s.Lookup(5)
	require.True(t, ok)
	require.NotNil(t, v.Title)
	assert.Equal(t, "Editor", *v.Title)
	assert.Equal(t, ViewID(5), s.Active())
	assert.Empty(t, rec.calls)
}

func TestWindowObjectPathReplyNotifiesActive(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 5, ViewTypeToplevel, "Editor"))

	// Answer the first six with values; the notification waits for the last.
	for i := 0; i < 6; i++ {
		s.HandleMessage(okReply(fmt.Sprintf("v%d", i)))
	}
	assert.Empty(t, rec.calls)

	s.HandleMessage([]byte(`{"result":"ok","value":"/org/foo/win"}`))

	require.Len(t, rec.calls, 1)
	got := rec.calls[0]
	require.NotNil(t, got)
	assert.Equal(t, ViewID(5), got.ID)
	require.NotNil(t, got.GTKWindowObjectPath)
	assert.Equal(t, "/org/foo/win", *got.GTKWindowObjectPath)
	assert.Equal(t, "v0", *got.KDEServiceName)
	assert.Equal(t, "v5", *got.GTKUniqueBusName)
	assert.Equal(t, "Editor", *got.Title)
	assert.True(t, got.Complete())
	assert.Zero(t, s.Pending())
}

func TestWindowObjectPathReplyForInactiveView(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 9, ViewTypeToplevel, ""))
	answerAll(s)

	assert.Empty(t, rec.calls)
	v, ok := s.Lookup(9)
	require.True(t, ok)
	assert.True(t, v.Complete())
}

func TestUnmapActiveView(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 5, ViewTypeToplevel, "Editor"))
	answerAll(s)
	rec.calls = nil

	s.HandleMessage([]byte(`{"event":"view-unmapped","view":{"id":5}}`))

	_, ok := s.Lookup(5)
	assert.False(t, ok)
	require.Len(t, rec.calls, 1)
	assert.Nil(t, rec.calls[0])
	// The pointer only moves on focus.
	assert.Equal(t, ViewID(5), s.Active())
}

func TestUnmapInactiveView(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, "a"))
	s.HandleMessage(event(EventViewMapped, 2, ViewTypeToplevel, ""))
	answerAll(s)
	rec.calls = nil

	s.HandleMessage(event(EventViewUnmapped, 2, "", ""))

	_, ok := s.Lookup(2)
	assert.False(t, ok)
	assert.Empty(t, rec.calls)
	assert.Equal(t, 1, s.Views())
}

func TestErrorReplyConsumesQueue(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 5, ViewTypeToplevel, ""))
	require.Equal(t, 7, s.Pending())

	s.HandleMessage([]byte(`{"result":"error"}`))

	assert.Equal(t, 6, s.Pending())
	v, _ := s.Lookup(5)
	assert.Nil(t, v.KDEServiceName)
	assert.Empty(t, rec.calls)
	assert.Equal(t, PropKDEObjectPath, s.queue.snapshot()[0].property)
}

func TestErrorFieldConsumesQueue(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 5, ViewTypeToplevel, ""))
	for i := 0; i < 6; i++ {
		s.HandleMessage(okReply("x"))
	}

	s.HandleMessage([]byte(`{"result":"ok","value":"/w","error":"no such view"}`))

	assert.Zero(t, s.Pending())
	v, _ := s.Lookup(5)
	assert.Nil(t, v.GTKWindowObjectPath)
	assert.Empty(t, rec.calls)
}

func TestReplyWithEmptyQueueIsDropped(t *testing.T) {
	s, _, rec := newTestSession(t)

	s.HandleMessage(okReply("stray"))

	assert.Zero(t, s.Pending())
	assert.Zero(t, s.Views())
	assert.Empty(t, rec.calls)
	assert.False(t, s.Closed())
}

func TestReplyWithoutValue(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 3, ViewTypeToplevel, ""))

	s.HandleMessage([]byte(`{"result":"ok"}`))

	assert.Equal(t, 6, s.Pending())
	v, ok := s.Lookup(3)
	require.True(t, ok)
	assert.Nil(t, v.KDEServiceName)
}

func TestNonStringValueKeptAsJSONText(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 3, ViewTypeToplevel, ""))

	s.HandleMessage([]byte(`{"result":"ok","value":42}`))

	v, _ := s.Lookup(3)
	require.NotNil(t, v.KDEServiceName)
	assert.Equal(t, "42", *v.KDEServiceName)
}

func TestLateReplyRecreatesUnmappedEntry(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 4, ViewTypeToplevel, ""))
	s.HandleMessage(event(EventViewUnmapped, 4, "", ""))

	_, ok := s.Lookup(4)
	require.False(t, ok)
	require.Equal(t, 7, s.Pending())

	s.HandleMessage(okReply("org.kde.app"))

	v, ok := s.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, "org.kde.app", *v.KDEServiceName)
	assert.Empty(t, rec.calls)
}

func TestFocusKnownView(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, "one"))
	s.HandleMessage(event(EventViewFocused, 2, ViewTypeToplevel, "two"))
	answerAll(s)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, ViewID(2), rec.calls[0].ID)
	rec.calls = nil

	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, "one renamed"))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, ViewID(1), rec.calls[0].ID)
	assert.Equal(t, "one renamed", *rec.calls[0].Title)
	assert.Equal(t, ViewID(1), s.Active())
	assert.Zero(t, s.Pending())
}

func TestRefocusActiveViewUpdatesTitleOnly(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, "before"))
	answerAll(s)
	rec.calls = nil

	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, "after"))
	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, "after"))

	assert.Empty(t, rec.calls)
	v, _ := s.Lookup(1)
	assert.Equal(t, "after", *v.Title)
	assert.Zero(t, s.Pending())
}

func TestMappedKnownViewIsNoop(t *testing.T) {
	s, tr, _ := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 7, ViewTypeToplevel, ""))
	answerAll(s)
	sent := len(tr.sent)

	s.HandleMessage(event(EventViewMapped, 7, ViewTypeToplevel, ""))

	assert.Equal(t, sent, len(tr.sent))
	assert.Zero(t, s.Pending())
}

func TestIgnoredEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"non toplevel", `{"event":"view-mapped","view":{"id":8,"type":"background"}}`},
		{"missing type", `{"event":"view-focused","view":{"id":8}}`},
		{"missing id", `{"event":"view-focused","view":{"type":"toplevel"}}`},
		{"focus without view", `{"event":"view-focused"}`},
		{"focus with null view", `{"event":"view-focused","view":null}`},
		{"map without view", `{"event":"view-mapped"}`},
		{"unknown event", `{"event":"view-geometry-changed","view":{"id":8,"type":"toplevel"}}`},
		{"not json", `{"event":`},
		{"bad id", `{"event":"view-mapped","view":{"id":-1,"type":"toplevel"}}`},
		{"bad title", `{"event":"view-focused","view":{"id":1,"type":"toplevel","title":3}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tr, rec := newTestSession(t)
			s.HandleMessage([]byte(tt.payload))

			assert.Zero(t, s.Pending())
			assert.Zero(t, s.Views())
			assert.Empty(t, tr.sent)
			assert.Empty(t, rec.calls)
			assert.Equal(t, NoView, s.Active())
			assert.False(t, s.Closed())
		})
	}
}

func TestFocusWithoutViewKeepsActive(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 3, ViewTypeToplevel, ""))
	answerAll(s)
	rec.calls = nil

	s.HandleMessage([]byte(`{"event":"view-focused","view":null}`))

	assert.Equal(t, ViewID(3), s.Active())
	assert.Empty(t, rec.calls)
}

func TestRepliesMatchedInOrder(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 1, ViewTypeToplevel, ""))
	s.HandleMessage(event(EventViewMapped, 2, ViewTypeToplevel, ""))
	require.Equal(t, 14, s.Pending())

	answerAll(s)

	for _, id := range []ViewID{1, 2} {
		v, ok := s.Lookup(id)
		require.True(t, ok)
		for _, p := range KnownProperties() {
			got, ok := v.Get(p)
			require.True(t, ok, "view %d property %s", id, p)
			assert.Equal(t, fmt.Sprintf("%d:%s", id, p), got)
		}
	}
}

func TestStartQueuesWatch(t *testing.T) {
	s, tr, rec := newTestSession(t)

	require.NoError(t, s.Start())

	require.Len(t, tr.sent, 1)
	want, err := EncodeWatch()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(tr.sent[0]))
	assert.Equal(t, 1, s.Pending())

	// The subscription acknowledgement touches no view.
	s.HandleMessage([]byte(`{"result":"ok"}`))
	assert.Zero(t, s.Pending())
	assert.Zero(t, s.Views())
	assert.Empty(t, rec.calls)
}

func TestSendFailureClosesSession(t *testing.T) {
	s, tr, _ := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 1, ViewTypeToplevel, ""))
	require.Equal(t, 7, s.Pending())

	tr.sendErr = errors.New("broken pipe")
	s.HandleMessage(event(EventViewMapped, 2, ViewTypeToplevel, ""))

	assert.True(t, s.Closed())
	assert.True(t, tr.closed)
	assert.Zero(t, s.Pending())
	assert.Zero(t, s.Views())
	assert.ErrorIs(t, s.Err(), ipc.ErrClosed)
	assert.ErrorIs(t, s.ProcessNext(), ipc.ErrClosed)
}

func TestStartFailure(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.sendErr = errors.New("broken pipe")

	err := s.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ipc.ErrClosed)
	assert.True(t, s.Closed())
}

func TestProcessNext(t *testing.T) {
	s, tr, rec := newTestSession(t)
	tr.inbound = [][]byte{
		event(EventViewFocused, 5, ViewTypeToplevel, "Editor"),
	}

	require.NoError(t, s.ProcessNext())
	for range KnownProperties() {
		tr.inbound = append(tr.inbound, okReply("x"))
	}
	for i := 0; i < 7; i++ {
		require.NoError(t, s.ProcessNext())
	}
	require.Len(t, rec.calls, 1)

	// Peer hangup is terminal.
	err := s.ProcessNext()
	require.Error(t, err)
	assert.ErrorIs(t, err, ipc.ErrClosed)
	assert.True(t, s.Closed())
	assert.Zero(t, s.Views())
	assert.ErrorIs(t, s.ProcessNext(), ipc.ErrClosed)
}

func TestCloseDropsState(t *testing.T) {
	s, tr, _ := newTestSession(t)
	s.HandleMessage(event(EventViewMapped, 1, ViewTypeToplevel, ""))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, tr.closed)

	// State belongs to the reading goroutine and goes on its next read.
	assert.Equal(t, 1, s.Views())
	err := s.ProcessNext()
	assert.Equal(t, ipc.ErrClosed, err)
	assert.True(t, s.Closed())
	assert.Zero(t, s.Views())
	assert.Zero(t, s.Pending())
}

func TestCloseWhileRunning(t *testing.T) {
	client, peer := net.Pipe()
	defer peer.Close()

	rec := &recorder{}
	s := NewSession(ipc.NewConn(client, "pipe"), rec, logging.Discard())

	mapped := make(chan struct{})
	go func() {
		if _, err := ipc.ReadFrame(peer); err != nil {
			return
		}
		if err := ipc.WriteFrame(peer, []byte(`{"result":"ok"}`)); err != nil {
			return
		}
		if err := ipc.WriteFrame(peer, event(EventViewMapped, 4, ViewTypeToplevel, "")); err != nil {
			return
		}
		close(mapped)
		for {
			if _, err := ipc.ReadFrame(peer); err != nil {
				return
			}
		}
	}()

	require.NoError(t, s.Start())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	<-mapped
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ipc.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.True(t, s.Closed())
	assert.Zero(t, s.Views())
	assert.Zero(t, s.Pending())
}

func TestViewWithHighestID(t *testing.T) {
	s, tr, rec := newTestSession(t)
	tr.inbound = [][]byte{[]byte(`{"result":"ok"}`)}
	require.NoError(t, s.Start())
	require.NoError(t, s.ProcessNext())

	id := uint32(math.MaxUint32)
	s.HandleMessage(event(EventViewFocused, id, ViewTypeToplevel, "Max"))
	require.Equal(t, 7, s.Pending())
	answerAll(s)

	require.Len(t, rec.calls, 1)
	got := rec.calls[0]
	require.NotNil(t, got)
	assert.Equal(t, ViewID(id), got.ID)
	assert.True(t, got.Complete())
	assert.Equal(t, ViewID(id), s.Active())
}

func TestRepeatedReplyKeepsValue(t *testing.T) {
	s, _, rec := newTestSession(t)
	s.HandleMessage(event(EventViewFocused, 6, ViewTypeToplevel, "Mail"))
	answerAll(s)
	first, ok := s.Lookup(6)
	require.True(t, ok)
	before := first.Clone()

	// Fetch again and get the same answers.
	s.fetchAll(6)
	answerAll(s)

	after, ok := s.Lookup(6)
	require.True(t, ok)
	assert.Equal(t, before, after.Clone())
	assert.False(t, s.Closed())
	assert.Zero(t, s.Pending())
	require.Len(t, rec.calls, 2)
	assert.Equal(t, rec.calls[0], rec.calls[1])
}

func TestStoreEntriesOnlyForMappedOrFocused(t *testing.T) {
	s, _, _ := newTestSession(t)
	seen := map[ViewID]bool{}

	steps := [][]byte{
		event(EventViewMapped, 1, ViewTypeToplevel, ""),
		event(EventViewFocused, 2, ViewTypeToplevel, "two"),
		event(EventViewMapped, 3, "panel", ""),
		event(EventViewUnmapped, 1, "", ""),
		event(EventViewFocused, 4, ViewTypeToplevel, ""),
	}
	for _, step := range steps {
		s.HandleMessage(step)
		msg, err := Decode(step)
		require.NoError(t, err)
		ev := msg.Event
		if ev.Name != EventViewUnmapped && ev.View.Type == ViewTypeToplevel {
			seen[*ev.View.ID] = true
		}
	}

	for id := range s.views.views {
		assert.True(t, seen[id], "unexpected entry %d", id)
	}
	_, ok := s.Lookup(3)
	assert.False(t, ok)
}

func TestSessionIDIsUnique(t *testing.T) {
	a, _, _ := newTestSession(t)
	b, _, _ := newTestSession(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestNilSinkAndLogger(t *testing.T) {
	s := NewSession(&fakeTransport{}, nil, nil)
	s.HandleMessage(event(EventViewFocused, 1, ViewTypeToplevel, ""))
	for range KnownProperties() {
		s.HandleMessage(okReply("x"))
	}
	assert.Zero(t, s.Pending())
}

func TestSessionMetrics(t *testing.T) {
	s, _, _ := newTestSession(t)
	m := metrics.NewClient(metrics.NewRegistry("wfmenu"))
	s.SetMetrics(m)

	s.HandleMessage(event(EventViewFocused, 3, ViewTypeToplevel, "Term"))
	assert.Equal(t, uint64(7), m.RequestsTotal.Value())
	assert.Equal(t, int64(7), m.PendingRequests.Value())
	assert.Equal(t, int64(1), m.CachedViews.Value())

	answerAll(s)
	s.HandleMessage([]byte(`{"result":"error","error":"no such view"}`))
	s.HandleMessage([]byte(`not json`))

	assert.Equal(t, uint64(1), m.EventsTotal.Value())
	assert.Equal(t, uint64(7), m.RepliesTotal.Value())
	assert.Zero(t, m.ReplyErrorsTotal.Value())
	assert.Equal(t, uint64(2), m.DroppedTotal.Value())
	assert.Equal(t, uint64(1), m.FocusChangesTotal.Value())
	assert.Zero(t, m.PendingRequests.Value())
}
