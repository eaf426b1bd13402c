// Package deploy starts and stops the runtime units of deployed sensors and
// actuators for the in-process backend.
package deploy

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Spec describes one component deployment.
type Spec struct {
	ComponentID   string
	Category      string
	Name          string
	ComponentType string
	Image         string
	DeviceID      string
	DeviceIP      string
	Parameters    map[string]string
}

// Env renders the spec as container environment variables, sorted for
// stable output.
func (s Spec) Env() []string {
	env := []string{
		"COMPONENT_ID=" + s.ComponentID,
		"COMPONENT_CATEGORY=" + s.Category,
		"COMPONENT_NAME=" + s.Name,
		"COMPONENT_TYPE=" + s.ComponentType,
		"DEVICE_ID=" + s.DeviceID,
	}
	if s.DeviceIP != "" {
		env = append(env, "DEVICE_IP="+s.DeviceIP)
	}
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "PARAM_"+strings.ToUpper(k)+"="+s.Parameters[k])
	}
	return env
}

// Runtime runs component units.
type Runtime interface {
	// Start launches the unit and returns a reference for Stop.
	Start(ctx context.Context, spec Spec) (ref string, err error)
	// Stop is idempotent: stopping an unknown ref succeeds.
	Stop(ctx context.Context, ref string) error
}

// Kinds accepted by configuration.
const (
	KindSimulated = "simulated"
	KindDocker    = "docker"
)

// ErrNoImage is returned when a docker deployment has no image to run.
var ErrNoImage = errors.New("no image configured for adapter")
