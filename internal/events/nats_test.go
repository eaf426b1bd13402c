package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	p, err := NewNATSPublisher("nats://127.0.0.1:1", "envmodel", zerolog.Nop())
	assert.ErrorContains(t, err, "connect")
	assert.Nil(t, p)
}

func TestNATSPublisher_Subject(t *testing.T) {
	p := &NATSPublisher{prefix: "mbp.editor"}
	assert.Equal(t, "mbp.editor.node.deployed", p.Subject(NodeDeployed))
}
