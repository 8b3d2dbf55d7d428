package wayfire

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"wfmenu/internal/ipc"
	"wfmenu/internal/logging"
	"wfmenu/internal/metrics"
)

// Transport is the framed byte stream a Session talks over. *ipc.Conn
// implements it.
type Transport interface {
	Send(payload []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Session is the client side of one compositor connection: the pending
// request queue, the view cache and the active view pointer, plus the sink
// that hears about focus changes.
//
// A Session is owned by a single goroutine. Nothing in it is locked; all
// methods except Close must be called from the goroutine driving Run or
// ProcessNext. Close only closes the transport and may be called from
// anywhere; the owner notices on its next read and drops the state itself.
type Session struct {
	transport Transport
	sink      FocusSink
	logger    *logging.Logger
	metrics   *metrics.Client
	id        string

	queue     requestQueue
	views     *Store
	active    ViewID
	hasActive bool

	closed  bool
	err     error
	closing atomic.Bool
}

// NewSession wraps an established transport. Call Start before reading.
func NewSession(t Transport, sink FocusSink, logger *logging.Logger) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	id := uuid.NewString()
	return &Session{
		transport: t,
		sink:      sink,
		logger:    logger.WithComponent("wayfire").With("conn_id", id),
		id:        id,
		views:     NewStore(),
		active:    NoView,
	}
}

// Connect dials the compositor socket at path, subscribes to view events
// and returns a session ready for Run.
func Connect(ctx context.Context, path string, sink FocusSink, logger *logging.Logger) (*Session, error) {
	conn, err := ipc.Dial(ctx, path)
	if err != nil {
		return nil, err
	}

	s := NewSession(conn, sink, logger)
	if cred, err := conn.PeerCredentials(); err == nil {
		s.logger.Info("connected to compositor", "path", path, "peer_pid", cred.PID, "peer_uid", cred.UID)
	} else {
		s.logger.Info("connected to compositor", "path", path)
		s.logger.Debug("peer credentials unavailable", "error", err)
	}

	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetMetrics attaches counters. A nil set disables them.
func (s *Session) SetMetrics(m *metrics.Client) {
	s.metrics = m
}

// ID returns the connection id used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Start sends the event subscription. Its reply carries no view data and is
// consumed like any other.
func (s *Session) Start() error {
	payload, err := EncodeWatch(WatchedEvents...)
	if err != nil {
		return fmt.Errorf("encode watch: %w", err)
	}
	s.send(pendingRequest{viewID: NoView, subscription: true}, payload)
	if s.closed {
		return s.err
	}
	return nil
}

// Run processes inbound messages until the transport fails or ctx is done.
// Cancelling ctx closes the connection, which unblocks the pending read.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.transport.Close()
	})
	defer stop()

	for {
		if err := s.ProcessNext(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// ProcessNext reads and handles exactly one message. It blocks until a full
// frame is available, so it should run when the socket is readable.
//
// Only transport failures are returned; once one happens the session is
// closed for good and every later call returns the same error.
func (s *Session) ProcessNext() error {
	if s.closed {
		return s.err
	}

	payload, err := s.transport.Receive()
	if err != nil {
		s.shutdown(err)
		return s.err
	}

	s.HandleMessage(payload)
	return nil
}

// HandleMessage interprets one inbound payload. Undecodable messages are
// logged and dropped.
func (s *Session) HandleMessage(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		s.logger.Warn("dropping message", "error", err, "size", len(payload))
		s.metrics.Dropped()
		return
	}

	switch msg.Kind {
	case KindEvent:
		s.metrics.Event()
		s.handleEvent(msg.Event)
	case KindReply:
		s.handleReply(msg.Reply)
	}
	s.metrics.ObserveSession(s.views.Len(), s.queue.len())
}

// Active returns the id of the most recently focused view, or NoView if
// nothing has been focused yet.
func (s *Session) Active() ViewID {
	if !s.hasActive {
		return NoView
	}
	return s.active
}

// Lookup returns the cached entry for id. The entry is owned by the session.
func (s *Session) Lookup(id ViewID) (*View, bool) {
	return s.views.Lookup(id)
}

// Views returns the number of cached views.
func (s *Session) Views() int {
	return s.views.Len()
}

// Pending returns the number of requests still waiting for a reply.
func (s *Session) Pending() int {
	return s.queue.len()
}

// Closed reports whether the session has stopped for good.
func (s *Session) Closed() bool {
	return s.closed
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	return s.err
}

// Close closes the transport. A blocked Run or ProcessNext then returns an
// error wrapping ipc.ErrClosed and drops all state on its own goroutine.
func (s *Session) Close() error {
	if s.closing.Swap(true) {
		return nil
	}
	return s.transport.Close()
}

func (s *Session) handleEvent(ev *EventPush) {
	if ev.View == nil {
		if ev.Name == EventViewFocused {
			// Focus moved to something without a view (e.g. the desktop).
			// Keep showing the last active view.
			s.logger.Debug("focus left all views")
			return
		}
		s.logger.Warn("unexpected event with no view data", "event", ev.Name)
		return
	}

	if ev.View.ID == nil {
		s.logger.Warn("cannot parse view id", "event", ev.Name)
		return
	}
	id := *ev.View.ID

	switch ev.Name {
	case EventViewUnmapped:
		s.unmapped(id)
		return
	case EventViewMapped, EventViewFocused:
	default:
		s.logger.Debug("ignoring event", "event", ev.Name, "view_id", id)
		return
	}

	if !ev.View.HasType {
		s.logger.Warn("cannot get type for view", "event", ev.Name, "view_id", id)
		return
	}
	if ev.View.Type != ViewTypeToplevel {
		return
	}

	if ev.Name == EventViewMapped {
		s.mapped(id)
	} else {
		s.focused(id, ev.View.Title)
	}
}

func (s *Session) mapped(id ViewID) {
	if _, known := s.views.Lookup(id); known {
		s.logger.Debug("view mapped again", "view_id", id)
		return
	}
	s.views.Ensure(id)
	s.fetchAll(id)
}

func (s *Session) focused(id ViewID, title *string) {
	if title == nil {
		s.logger.Debug("cannot get title for view", "view_id", id)
	}

	v, known := s.views.Lookup(id)
	if !known {
		v = s.views.Ensure(id)
		if title != nil {
			v.Title = cloneString(title)
		}
		// Properties are still on their way; the window-object-path reply
		// triggers the notification.
		s.setActive(id)
		s.fetchAll(id)
		return
	}

	if title != nil {
		v.Title = cloneString(title)
	}
	if !s.isActive(id) {
		s.notify(v)
	}
	s.setActive(id)
}

func (s *Session) setActive(id ViewID) {
	s.active, s.hasActive = id, true
}

func (s *Session) isActive(id ViewID) bool {
	return s.hasActive && s.active == id
}

func (s *Session) unmapped(id ViewID) {
	s.views.Delete(id)
	if s.isActive(id) {
		// The pointer is left as is; the next focus event moves it.
		s.notify(nil)
	}
}

func (s *Session) handleReply(r *Reply) {
	head, ok := s.queue.pop()
	if !ok {
		s.logger.Error("reply without a pending request", "result", r.Result)
		s.metrics.Dropped()
		return
	}
	s.metrics.Reply(r.OK)

	if !r.OK {
		s.logger.Error("error reply to request",
			"result", r.Result, "error", r.Error,
			"view_id", head.viewID, "property", head.property)
		return
	}
	if head.subscription {
		return
	}

	// An unmapped view's late replies land in a fresh entry.
	v := s.views.Ensure(head.viewID)
	if r.Value == nil {
		s.logger.Warn("no value in reply", "view_id", head.viewID, "property", head.property)
		return
	}
	if !v.set(head.property, *r.Value) {
		s.logger.Warn("reply for unknown property", "view_id", head.viewID, "property", head.property)
		return
	}

	if head.property == PropGTKWindowObjectPath && s.isActive(head.viewID) {
		s.notify(v)
	}
}

// fetchAll requests every known property of a view.
func (s *Session) fetchAll(id ViewID) {
	for _, p := range KnownProperties() {
		payload, err := EncodeGetProperty(id, p)
		if err != nil {
			s.logger.Error("cannot encode request", "view_id", id, "property", p, "error", err)
			continue
		}
		s.send(pendingRequest{viewID: id, property: p}, payload)
		if s.closed {
			return
		}
	}
}

// send writes a request and records it as pending. A write failure closes
// the session.
func (s *Session) send(req pendingRequest, payload []byte) {
	if s.closed {
		return
	}
	if err := s.transport.Send(payload); err != nil {
		s.shutdown(err)
		return
	}
	s.queue.push(req)
	s.metrics.Request()
}

func (s *Session) notify(v *View) {
	if v == nil {
		s.logger.Debug("focus notification", "view_id", "none")
	} else {
		s.logger.Debug("focus notification", "view_id", v.ID, "dialect", v.Dialect().String())
	}
	s.metrics.FocusChange()
	s.sink.FocusChanged(v)
}

// shutdown moves the session into its terminal state after a transport
// failure.
func (s *Session) shutdown(cause error) {
	if s.closed {
		return
	}
	s.closed = true
	switch {
	case s.closing.Load():
		s.err = ipc.ErrClosed
	case errors.Is(cause, ipc.ErrClosed):
		s.err = cause
	default:
		s.err = fmt.Errorf("%w: %v", ipc.ErrClosed, cause)
	}
	s.transport.Close()
	s.queue.reset()
	s.views.Reset()
	s.metrics.ObserveSession(0, 0)
	if s.closing.Load() {
		s.logger.Info("session closed")
		return
	}
	s.logger.Error("compositor connection lost", "error", cause)
}
