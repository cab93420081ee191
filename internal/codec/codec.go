// Package codec converts raw stream text messages into discriminated frames and
// encodes the outbound control frames.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/agora/internal/model"
)

// Errors
var (
	ErrMalformed       = errors.New("malformed json")
	ErrUnsupportedRoot = errors.New("root is not an object or array")
)

// maxSnippet bounds how much of a bad message is kept in a ProtocolError.
const maxSnippet = 256

// ProtocolError describes an inbound message that could not be decoded.
type ProtocolError struct {
	Err     error
	Snippet string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v: %s", e.Err, e.Snippet)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Frame is one element of an inbound message.
type Frame struct {
	Type    string          // Value of the "T" discriminator
	HasType bool            // False when "T" is absent or not a string
	Raw     json.RawMessage // Full element, including "T"
}

// envelope is used for fast discriminator extraction.
type envelope struct {
	T *string `json:"T"`
}

func newFrame(raw json.RawMessage) Frame {
	f := Frame{Raw: raw}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.T != nil {
		f.Type = *env.T
		f.HasType = true
	}
	return f
}

func noFrames(func(Frame) bool) {}

// Parse validates data and returns a lazy sequence over its frames. An array
// root yields one frame per element in order; an object root yields one frame.
// The sequence is meant to be ranged over once.
func Parse(data []byte) (iter.Seq[Frame], error) {
	if !json.Valid(data) {
		return noFrames, newProtocolError(ErrMalformed, data)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	switch trimmed[0] {
	case '[':
		return func(yield func(Frame) bool) {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			if _, err := dec.Token(); err != nil {
				return
			}
			for dec.More() {
				var raw json.RawMessage
				if err := dec.Decode(&raw); err != nil {
					return
				}
				if !yield(newFrame(raw)) {
					return
				}
			}
		}, nil
	case '{':
		return func(yield func(Frame) bool) {
			yield(newFrame(json.RawMessage(trimmed)))
		}, nil
	default:
		return noFrames, newProtocolError(ErrUnsupportedRoot, data)
	}
}

func newProtocolError(err error, data []byte) *ProtocolError {
	snippet := data
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &ProtocolError{Err: err, Snippet: string(snippet)}
}

// Decoder wraps Parse with logging and error accounting. Decode never fails:
// bad input yields no frames.
type Decoder struct {
	logger      *slog.Logger
	parseErrors atomic.Int64
}

// NewDecoder creates a new Decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Decode returns the frames contained in one text message.
func (d *Decoder) Decode(data []byte) iter.Seq[Frame] {
	frames, err := Parse(data)
	if err != nil {
		d.parseErrors.Add(1)
		var perr *ProtocolError
		if errors.As(err, &perr) && errors.Is(perr.Err, ErrUnsupportedRoot) {
			d.logger.Warn("message is not a json array or object", "message", perr.Snippet)
		} else {
			d.logger.Error("failed to parse message", "error", err)
		}
	}
	return frames
}

// ParseErrors returns the number of messages that failed to decode.
func (d *Decoder) ParseErrors() int64 {
	return d.parseErrors.Load()
}

// subscribeFrame is the wire format of a subscribe request.
type subscribeFrame struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
}

// EncodeSubscribe builds {"action":"subscribe","<channel>":[symbols...]}.
func EncodeSubscribe(ch model.Channel, symbols ...string) ([]byte, error) {
	if len(symbols) == 0 {
		return nil, errors.New("encode subscribe: no symbols")
	}

	frame := subscribeFrame{Action: "subscribe"}
	switch ch {
	case model.ChannelTrade:
		frame.Trades = symbols
	case model.ChannelQuote:
		frame.Quotes = symbols
	default:
		return nil, fmt.Errorf("encode subscribe: unknown channel %q", ch)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe frame: %w", err)
	}
	return data, nil
}
