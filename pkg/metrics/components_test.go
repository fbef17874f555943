package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetComponents(t *testing.T) {
	t.Helper()
	components = newRegistry()
	ComponentUp.Reset()
}

func componentGauge(t *testing.T, name string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, ComponentUp.WithLabelValues(name).Write(&m))
	return m.GetGauge().GetValue()
}

func TestRegisterComponent(t *testing.T) {
	resetComponents(t)

	RegisterComponent("journal", true, "open")

	summary := GetHealth()
	require.Len(t, summary.Components, 1)
	assert.Equal(t, "journal", summary.Components[0].Name)
	assert.Equal(t, "open", summary.Components[0].Message)
	assert.Equal(t, 1.0, componentGauge(t, "journal"))

	UpdateComponent("journal", false, "disk full")
	assert.Equal(t, 0.0, componentGauge(t, "journal"))
	assert.False(t, GetHealth().Healthy)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       bool
	}{
		{"all healthy", map[string]bool{"controller": true, "control_plane": true}, true},
		{"one unhealthy", map[string]bool{"controller": true, "control_plane": false}, false},
		{"nothing registered", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetComponents(t)
			SetVersion("1.0.0")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}

			summary := GetHealth()
			assert.Equal(t, tt.want, summary.Healthy)
			assert.Equal(t, "1.0.0", summary.Version)
			assert.Len(t, summary.Components, len(tt.components))
		})
	}
}

func TestGetHealthSortsComponents(t *testing.T) {
	resetComponents(t)
	RegisterComponent("journal", true, "")
	RegisterComponent("control_plane", true, "")
	RegisterComponent("controller", true, "")

	var names []string
	for _, comp := range GetHealth().Components {
		names = append(names, comp.Name)
	}
	assert.Equal(t, []string{"control_plane", "controller", "journal"}, names)
}
