package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes events on "<prefix>.<kind>" subjects.
type NATSPublisher struct {
	nc     *natsgo.Conn
	prefix string
	lg     zerolog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string, lg zerolog.Logger) (*NATSPublisher, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("envmodel"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if prefix == "" {
		prefix = "envmodel"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, lg: lg.With().Str("adapter", "nats").Logger()}, nil
}

// Subject returns the subject an event kind is published on.
func (p *NATSPublisher) Subject(k Kind) string {
	return p.prefix + "." + string(k)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev.Kind), data); err != nil {
		p.lg.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("publish failed")
		return err
	}
	return nil
}

func (p *NATSPublisher) Close() { _ = p.nc.Drain() }
