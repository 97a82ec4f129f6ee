package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/langconnect/mcpd/pkg/core"
)

func TestMapState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state string
		want  core.State
	}{
		{state: "running", want: core.StateRunning},
		{state: "exited", want: core.StateStopped},
		{state: "paused", want: core.StateStopped},
		{state: "restarting", want: core.StateStarting},
		{state: "dead", want: core.StateError},
		{state: "created", want: core.StateError},
		{state: "removing", want: core.StateError},
		{state: "", want: core.StateError},
	}

	for _, tt := range tests {
		t.Run("docker state "+tt.state, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MapState(tt.state))
		})
	}
}
