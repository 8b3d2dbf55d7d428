package wayfire

// FocusSink receives focus notifications from a Session.
//
// FocusChanged is called with the focused view's current property set, or
// nil when the focused view went away. It runs on the session's goroutine;
// v is only valid for the duration of the call. Use View.Clone to keep it.
type FocusSink interface {
	FocusChanged(v *View)
}

// SinkFunc adapts a function to FocusSink.
type SinkFunc func(v *View)

// FocusChanged implements FocusSink.
func (f SinkFunc) FocusChanged(v *View) { f(v) }

// MultiSink fans one notification out to several sinks, in order.
type MultiSink []FocusSink

// FocusChanged implements FocusSink.
func (m MultiSink) FocusChanged(v *View) {
	for _, s := range m {
		if s != nil {
			s.FocusChanged(v)
		}
	}
}

type nopSink struct{}

func (nopSink) FocusChanged(*View) {}
