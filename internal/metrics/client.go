package metrics

import "time"

// Client is the metric set of one wfmenu process.
type Client struct {
	registry *Registry

	EventsTotal       *Counter
	RepliesTotal      *Counter
	ReplyErrorsTotal  *Counter
	DroppedTotal      *Counter
	RequestsTotal     *Counter
	FocusChangesTotal *Counter
	MenuLookupsTotal  *Counter
	MenuErrorsTotal   *Counter

	CachedViews     *Gauge
	PendingRequests *Gauge
	StartedAt       *Gauge

	MenuLookupSeconds *Histogram
}

// NewClient registers the client metrics on r.
func NewClient(r *Registry) *Client {
	if r == nil {
		r = NewRegistry("wfmenu")
	}
	m := &Client{
		registry: r,

		EventsTotal:       r.Counter("ipc_events_total", "Events pushed by the compositor"),
		RepliesTotal:      r.Counter("ipc_replies_total", "Replies received from the compositor"),
		ReplyErrorsTotal:  r.Counter("ipc_reply_errors_total", "Replies that reported a failure"),
		DroppedTotal:      r.Counter("ipc_dropped_total", "Inbound messages that could not be used"),
		RequestsTotal:     r.Counter("ipc_requests_total", "Requests written to the compositor"),
		FocusChangesTotal: r.Counter("focus_changes_total", "Focus notifications delivered"),
		MenuLookupsTotal:  r.Counter("menu_lookups_total", "Menu lookups finished"),
		MenuErrorsTotal:   r.Counter("menu_errors_total", "Menu lookups that failed"),

		CachedViews:     r.Gauge("cached_views", "Views held in the cache"),
		PendingRequests: r.Gauge("pending_requests", "Requests waiting for a reply"),
		StartedAt:       r.Gauge("start_time_seconds", "Unix time the process started"),

		MenuLookupSeconds: r.Histogram("menu_lookup_seconds", "Menu lookup latency", LatencyBuckets),
	}
	m.StartedAt.Set(time.Now().Unix())
	return m
}

// Registry returns the registry the metrics live in.
func (m *Client) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSession records the current cache and queue sizes.
func (m *Client) ObserveSession(views, pending int) {
	if m == nil {
		return
	}
	m.CachedViews.Set(int64(views))
	m.PendingRequests.Set(int64(pending))
}

// ObserveMenuLookup records a finished menu lookup.
func (m *Client) ObserveMenuLookup(start time.Time, failed bool) {
	if m == nil {
		return
	}
	m.MenuLookupsTotal.Inc()
	if failed {
		m.MenuErrorsTotal.Inc()
	}
	m.MenuLookupSeconds.ObserveSince(start)
}

// Event counts one compositor event.
func (m *Client) Event() {
	if m != nil {
		m.EventsTotal.Inc()
	}
}

// Reply counts one reply and whether it failed.
func (m *Client) Reply(ok bool) {
	if m == nil {
		return
	}
	m.RepliesTotal.Inc()
	if !ok {
		m.ReplyErrorsTotal.Inc()
	}
}

// Dropped counts one unusable inbound message.
func (m *Client) Dropped() {
	if m != nil {
		m.DroppedTotal.Inc()
	}
}

// Request counts one request written.
func (m *Client) Request() {
	if m != nil {
		m.RequestsTotal.Inc()
	}
}

// FocusChange counts one delivered focus notification.
func (m *Client) FocusChange() {
	if m != nil {
		m.FocusChangesTotal.Inc()
	}
}
