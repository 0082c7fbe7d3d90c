package exchanges

import (
	"context"
	"time"

	"spread-arbitrage-scanner/market"
)

// RawMessage is one inbound frame tagged with the venue it came from.
type RawMessage struct {
	Exchange market.Exchange
	Payload  []byte
	Received time.Time
}

// Sink receives raw frames from a connection Manager.
type Sink interface {
	Publish(ctx context.Context, msg RawMessage) error
}

// ChannelSink publishes into a bounded channel. Publish blocks while the
// channel is full.
type ChannelSink chan<- RawMessage

func (s ChannelSink) Publish(ctx context.Context, msg RawMessage) error {
	select {
	case s <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
