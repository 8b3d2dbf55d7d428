package wayfire

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// IPC method names.
const (
	MethodGetViewProperty = "window-rules/get-view-property"
	MethodWatch           = "window-rules/events/watch"
)

// Event names pushed by the compositor.
const (
	EventViewFocused  = "view-focused"
	EventViewMapped   = "view-mapped"
	EventViewUnmapped = "view-unmapped"
)

// ViewTypeToplevel is the only view type tracked for menus.
const ViewTypeToplevel = "toplevel"

// WatchedEvents are the events subscribed to at startup.
var WatchedEvents = []string{EventViewFocused, EventViewMapped, EventViewUnmapped}

// ErrProtocol marks inbound messages that cannot be interpreted.
var ErrProtocol = errors.New("protocol error")

//go:embed schema/message.schema.json
var messageSchemaSource string

var messageSchema = jsonschema.MustCompileString("message.schema.json", messageSchemaSource)

type request struct {
	Method string `json:"method"`
	Data   any    `json:"data"`
}

type getPropertyData struct {
	ID       ViewID   `json:"id"`
	Property Property `json:"property"`
}

type watchData struct {
	Events []string `json:"events"`
}

// EncodeGetProperty builds a get-view-property request.
func EncodeGetProperty(id ViewID, p Property) ([]byte, error) {
	return json.Marshal(request{
		Method: MethodGetViewProperty,
		Data:   getPropertyData{ID: id, Property: p},
	})
}

// EncodeWatch builds an event subscription request.
func EncodeWatch(events ...string) ([]byte, error) {
	if len(events) == 0 {
		events = WatchedEvents
	}
	return json.Marshal(request{
		Method: MethodWatch,
		Data:   watchData{Events: events},
	})
}

// MessageKind tells event pushes and replies apart.
type MessageKind int

const (
	KindReply MessageKind = iota
	KindEvent
)

// Message is a decoded inbound frame. Exactly one of Event and Reply is set,
// matching Kind.
type Message struct {
	Kind  MessageKind
	Event *EventPush
	Reply *Reply
}

// EventPush is an unsolicited notification.
type EventPush struct {
	Name string
	// View is nil when the push carried no view object.
	View *ViewInfo
}

// ViewInfo is the view object embedded in an event push.
type ViewInfo struct {
	// ID is nil when the view object had no id.
	ID *ViewID
	// HasType distinguishes an absent type from an empty one.
	Type    string
	HasType bool
	Title   *string
}

// Reply answers the oldest outstanding request.
type Reply struct {
	// OK is true only for result == "ok" with no error field.
	OK     bool
	Result string
	Error  string
	// Value is nil when the reply carried no value (or null).
	Value *string
}

type wireMessage struct {
	Event  *string         `json:"event"`
	View   json.RawMessage `json:"view"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Value  json.RawMessage `json:"value"`
}

type wireView struct {
	ID    *uint32 `json:"id"`
	Type  *string `json:"type"`
	Title *string `json:"title"`
}

// Decode parses one inbound payload. Errors wrap ErrProtocol.
func Decode(payload []byte) (*Message, error) {
	var tree any
	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrProtocol, err)
	}
	if err := messageSchema.Validate(tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if wire.Event != nil {
		push := &EventPush{Name: *wire.Event}
		if !isNull(wire.View) {
			var wv wireView
			if err := json.Unmarshal(wire.View, &wv); err != nil {
				return nil, fmt.Errorf("%w: view: %v", ErrProtocol, err)
			}
			info := &ViewInfo{Title: wv.Title}
			if wv.ID != nil {
				id := ViewID(*wv.ID)
				info.ID = &id
			}
			if wv.Type != nil {
				info.Type, info.HasType = *wv.Type, true
			}
			push.View = info
		}
		return &Message{Kind: KindEvent, Event: push}, nil
	}

	reply := &Reply{
		Result: scalarText(wire.Result),
		Error:  scalarText(wire.Error),
	}
	reply.OK = reply.Result == "ok" && isNull(wire.Error)
	if !isNull(wire.Value) {
		v := scalarText(wire.Value)
		reply.Value = &v
	}
	return &Message{Kind: KindReply, Reply: reply}, nil
}

// scalarText returns a JSON string's contents, or the compact JSON text of
// any other value. Absent and null yield "".
func scalarText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
