package deploy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecEnv(t *testing.T) {
	s := Spec{
		ComponentID:   "c1",
		Category:      "sensors",
		Name:          "temp",
		ComponentType: "Temperature",
		DeviceID:      "d1",
		Parameters:    map[string]string{"interval": "5", "unit": "C"},
	}
	env := s.Env()
	assert.Contains(t, env, "COMPONENT_ID=c1")
	assert.Contains(t, env, "DEVICE_ID=d1")
	assert.NotContains(t, env, "DEVICE_IP=")
	assert.Equal(t, "PARAM_INTERVAL=5", env[len(env)-2])
	assert.Equal(t, "PARAM_UNIT=C", env[len(env)-1])
}

func TestSimulatedRuntime(t *testing.T) {
	r := NewSimulatedRuntime(zerolog.Nop())
	ctx := context.Background()

	ref, err := r.Start(ctx, Spec{ComponentID: "c1", Name: "temp"})
	require.NoError(t, err)
	spec, ok := r.Running(ref)
	require.True(t, ok)
	assert.Equal(t, "temp", spec.Name)

	require.NoError(t, r.Stop(ctx, ref))
	assert.Zero(t, r.Len())
	assert.NoError(t, r.Stop(ctx, ref), "stop must be idempotent")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Start(cancelled, Spec{})
	assert.Error(t, err)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "component-42", ContainerName("42"))
}
