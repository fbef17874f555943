package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ComponentUp mirrors the component registry for scraping
var ComponentUp = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "natfailover_component_up",
		Help: "Whether a controller component is healthy (1) or not (0)",
	},
	[]string{"component"},
)

func init() {
	prometheus.MustRegister(ComponentUp)
}

// Component is the last reported state of one part of the controller
type Component struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
}

// Summary is the aggregated state of all registered components
type Summary struct {
	Healthy    bool        `json:"healthy"`
	Version    string      `json:"version,omitempty"`
	Uptime     string      `json:"uptime"`
	Components []Component `json:"components,omitempty"`
}

type registry struct {
	mu         sync.RWMutex
	components map[string]Component
	started    time.Time
	version    string
}

var components = newRegistry()

func newRegistry() *registry {
	return &registry{
		components: make(map[string]Component),
		started:    time.Now(),
	}
}

// SetVersion records the build version reported in summaries
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// RegisterComponent records the state of a component, replacing any
// earlier report
func RegisterComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()

	components.components[name] = Component{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}

	up := 0.0
	if healthy {
		up = 1
	}
	ComponentUp.WithLabelValues(name).Set(up)
}

// UpdateComponent is RegisterComponent for components known to exist
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth summarizes every registered component, sorted by name. The
// summary is unhealthy when any component is.
func GetHealth() Summary {
	components.mu.RLock()
	defer components.mu.RUnlock()

	summary := Summary{
		Healthy: true,
		Version: components.version,
		Uptime:  time.Since(components.started).Round(time.Second).String(),
	}
	for _, comp := range components.components {
		if !comp.Healthy {
			summary.Healthy = false
		}
		summary.Components = append(summary.Components, comp)
	}
	sort.Slice(summary.Components, func(i, j int) bool {
		return summary.Components[i].Name < summary.Components[j].Name
	})
	return summary
}
