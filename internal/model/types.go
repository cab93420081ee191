package model

import (
	"fmt"
	"time"
)

// Channel is a per-symbol data channel on the stream.
type Channel string

const (
	ChannelTrade Channel = "trades"
	ChannelQuote Channel = "quotes"
)

// Channels lists every channel in wire order (trades before quotes).
var Channels = []Channel{ChannelTrade, ChannelQuote}

// ParseChannel maps a channel name to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelTrade, ChannelQuote:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Subscription is one (symbol, channel) pair requested on a connection.
type Subscription struct {
	Symbol  string
	Channel Channel
}

func (s Subscription) String() string {
	return string(s.Channel) + ":" + s.Symbol
}

// -----------------------------------------------------------------------------
// Data Payloads
// -----------------------------------------------------------------------------

// Trade is a "t" frame.
type Trade struct {
	Symbol     string    `json:"S"`
	ID         int64     `json:"i"`
	Exchange   string    `json:"x"`
	Price      float64   `json:"p"`
	Size       float64   `json:"s"` // Fractional for crypto feeds
	Timestamp  time.Time `json:"t"`
	Conditions []string  `json:"c"`
	Tape       string    `json:"z"`
}

// Quote is a "q" frame.
type Quote struct {
	Symbol      string    `json:"S"`
	BidExchange string    `json:"bx"`
	BidPrice    float64   `json:"bp"`
	BidSize     float64   `json:"bs"`
	AskExchange string    `json:"ax"`
	AskPrice    float64   `json:"ap"`
	AskSize     float64   `json:"as"`
	Timestamp   time.Time `json:"t"`
	Conditions  []string  `json:"c"`
	Tape        string    `json:"z"`
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 {
	return q.AskPrice - q.BidPrice
}

// -----------------------------------------------------------------------------
// Control Payloads
// -----------------------------------------------------------------------------

// SubscriptionState is a "subscription" frame listing symbols per channel.
type SubscriptionState struct {
	Trades []string `json:"trades"`
	Quotes []string `json:"quotes"`
	Bars   []string `json:"bars,omitempty"`
}

// Symbols returns the symbols the server reports for a channel.
func (s SubscriptionState) Symbols(ch Channel) []string {
	switch ch {
	case ChannelTrade:
		return s.Trades
	case ChannelQuote:
		return s.Quotes
	}
	return nil
}

// Success is a "success" frame. Msg is "connected" or "authenticated".
type Success struct {
	Msg string `json:"msg"`
}

// Error is an "error" frame from the venue.
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e Error) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Msg)
}
