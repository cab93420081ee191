package stream

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/agora/internal/codec"
	"github.com/rickgao/agora/internal/model"
)

// Kind is the classified type of an inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrade
	KindQuote
	KindSubscription
	KindSuccess
	KindError
)

// Defaults applied to error frames with missing fields.
const (
	DefaultErrorCode    = -1
	DefaultErrorMessage = "Unknown error"
)

// MsgAuthenticated is the success message confirming authentication.
const MsgAuthenticated = "authenticated"

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindQuote:
		return "quote"
	case KindSubscription:
		return "subscription"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a classified frame.
type Event struct {
	Kind       Kind
	Type       string          // Raw "T" discriminator
	Symbol     string          // "S" for trades and quotes
	Message    string          // "msg" for success and error events
	Code       int             // "code" for error events
	Payload    json.RawMessage // Full frame
	ReceivedAt time.Time
}

// Authenticated reports whether this event confirms authentication.
func (e Event) Authenticated() bool {
	return e.Kind == KindSuccess && e.Message == MsgAuthenticated
}

// Trade decodes the payload of a trade event.
func (e Event) Trade() (model.Trade, error) {
	var t model.Trade
	if e.Kind != KindTrade {
		return t, fmt.Errorf("event is %s, not trade", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return t, fmt.Errorf("decode trade: %w", err)
	}
	return t, nil
}

// Quote decodes the payload of a quote event.
func (e Event) Quote() (model.Quote, error) {
	var q model.Quote
	if e.Kind != KindQuote {
		return q, fmt.Errorf("event is %s, not quote", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, &q); err != nil {
		return q, fmt.Errorf("decode quote: %w", err)
	}
	return q, nil
}

// Subscriptions decodes the payload of a subscription event.
func (e Event) Subscriptions() (model.SubscriptionState, error) {
	var s model.SubscriptionState
	if e.Kind != KindSubscription {
		return s, fmt.Errorf("event is %s, not subscription", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return s, fmt.Errorf("decode subscription: %w", err)
	}
	return s, nil
}

// RemoteError returns the venue error carried by an error event.
func (e Event) RemoteError() model.Error {
	return model.Error{Code: e.Code, Msg: e.Message}
}

// Wire types for field extraction

type symbolWire struct {
	S string `json:"S"`
}

// controlWire fields are decoded independently so a malformed code does not
// hide the message.
type controlWire struct {
	Code json.RawMessage `json:"code"`
	Msg  json.RawMessage `json:"msg"`
}

// Classify maps a frame to an Event by its "T" discriminator. Frames without a
// discriminator, or with one this client does not handle, become KindUnknown.
func Classify(f codec.Frame) Event {
	ev := Event{Type: f.Type, Payload: f.Raw}
	if !f.HasType {
		return ev
	}

	switch f.Type {
	case "success":
		ev.Kind = KindSuccess
		var w controlWire
		if json.Unmarshal(f.Raw, &w) == nil {
			if msg, ok := decodeMsg(w.Msg); ok {
				ev.Message = msg
			}
		}
	case "error":
		ev.Kind = KindError
		ev.Code = DefaultErrorCode
		ev.Message = DefaultErrorMessage
		var w controlWire
		if json.Unmarshal(f.Raw, &w) == nil {
			if code, ok := decodeCode(w.Code); ok {
				ev.Code = code
			}
			if msg, ok := decodeMsg(w.Msg); ok {
				ev.Message = msg
			}
		}
	case "subscription":
		ev.Kind = KindSubscription
	case "t":
		ev.Kind = KindTrade
		ev.Symbol = extractSymbol(f.Raw)
	case "q":
		ev.Kind = KindQuote
		ev.Symbol = extractSymbol(f.Raw)
	}

	return ev
}

// absent reports a missing or null field; unmarshalling null is a no-op.
func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeMsg(raw json.RawMessage) (string, bool) {
	var msg string
	if absent(raw) || json.Unmarshal(raw, &msg) != nil {
		return "", false
	}
	return msg, true
}

// decodeCode accepts an integer code, an integral float such as 402.0, or a
// numeric string such as "402".
func decodeCode(raw json.RawMessage) (int, bool) {
	if absent(raw) {
		return 0, false
	}

	var f float64
	if json.Unmarshal(raw, &f) == nil {
		if f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func extractSymbol(raw json.RawMessage) string {
	var w symbolWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ""
	}
	return w.S
}
