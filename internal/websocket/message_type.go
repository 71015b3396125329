package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol event names. Control events carry the "pusher:" prefix; anything
// else is an application event relayed to a channel verbatim.
const (
	EventSubscribe   = "pusher:subscribe"
	EventUnsubscribe = "pusher:unsubscribe"
	EventPing        = "pusher:ping"
	EventPong        = "pusher:pong"

	EventConnectionEstablished = "pusher:connection_established"
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
	EventError                 = "pusher:error"

	EventMemberAdded   = "pusher_internal:member_added"
	EventMemberRemoved = "pusher_internal:member_removed"

	controlPrefix = "pusher:"

	// clientEventPrefix marks client-originated events that are only allowed
	// on restricted channels the sender has joined.
	clientEventPrefix = "client-"

	// activityTimeout is advertised to clients in the connection ack, in
	// seconds. Clients are expected to ping if the connection stays idle
	// longer than this.
	activityTimeout = 120
)

// Frame is the single-JSON-object wire format, one frame per text message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// SubscribeData is the payload of subscribe/unsubscribe control frames. Auth
// and ChannelData are only present for restricted channels.
type SubscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// InboundKind tags the decoded variant of a client frame.
type InboundKind int

const (
	InboundSubscribe InboundKind = iota + 1
	InboundUnsubscribe
	InboundPing
	InboundClientEvent
)

// Inbound is a client frame decoded once at the transport boundary. Frames
// that do not match a known variant are rejected by DecodeInbound and never
// reach the hub.
type Inbound struct {
	Kind      InboundKind
	Subscribe SubscribeData   // set for InboundSubscribe / InboundUnsubscribe
	Event     string          // set for InboundClientEvent
	Channel   string          // set for InboundClientEvent
	Data      json.RawMessage // set for InboundClientEvent
}

// DecodeInbound parses a raw text frame into its tagged variant.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("unparseable frame: %w", err)
	}
	if frame.Event == "" {
		return nil, fmt.Errorf("frame missing event")
	}

	switch frame.Event {
	case EventSubscribe, EventUnsubscribe:
		var sub SubscribeData
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &sub); err != nil {
				return nil, fmt.Errorf("malformed %s data: %w", frame.Event, err)
			}
		}
		if sub.Channel == "" {
			return nil, fmt.Errorf("%s missing channel", frame.Event)
		}
		kind := InboundSubscribe
		if frame.Event == EventUnsubscribe {
			kind = InboundUnsubscribe
		}
		return &Inbound{Kind: kind, Subscribe: sub}, nil

	case EventPing:
		return &Inbound{Kind: InboundPing}, nil
	}

	if strings.HasPrefix(frame.Event, controlPrefix) {
		return nil, fmt.Errorf("unknown control event %q", frame.Event)
	}
	if frame.Channel == "" {
		return nil, fmt.Errorf("event %q missing channel", frame.Event)
	}

	return &Inbound{
		Kind:    InboundClientEvent,
		Event:   frame.Event,
		Channel: frame.Channel,
		Data:    frame.Data,
	}, nil
}

// IsClientEvent reports whether an event name uses the client-originated
// convention that restricts it to joined private/presence channels.
func IsClientEvent(event string) bool {
	return strings.HasPrefix(event, clientEventPrefix)
}

// Frame constructors

// NewConnectionEstablished builds the ack sent once after accept. The data
// field is a JSON-encoded string, not an object; established clients of the
// protocol expect the double encoding.
func NewConnectionEstablished(socketID string) *Frame {
	inner, _ := json.Marshal(map[string]any{
		"socket_id":        socketID,
		"activity_timeout": activityTimeout,
	})
	data, _ := json.Marshal(string(inner))
	return &Frame{Event: EventConnectionEstablished, Data: data}
}

func NewSubscriptionSucceeded(channel string, data json.RawMessage) *Frame {
	return &Frame{Event: EventSubscriptionSucceeded, Channel: channel, Data: data}
}

func NewSubscriptionError(channel, reason string) *Frame {
	data, _ := json.Marshal(map[string]string{"reason": reason})
	return &Frame{Event: EventSubscriptionError, Channel: channel, Data: data}
}

func NewErrorFrame(message string) *Frame {
	data, _ := json.Marshal(map[string]string{"message": message})
	return &Frame{Event: EventError, Data: data}
}

func NewPong() *Frame {
	return &Frame{Event: EventPong}
}

// NewEvent builds a fanned-out application event.
func NewEvent(channel, event string, data json.RawMessage) *Frame {
	return &Frame{Event: event, Channel: channel, Data: data}
}
