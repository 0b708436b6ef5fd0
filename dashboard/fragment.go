package dashboard

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/protocol"
)

// FragmentPrefix precedes the encoded dashboard state.
const FragmentPrefix = "#graph/"

// FragmentState is the shareable dashboard state.
type FragmentState struct {
	Connections []string        `json:"connections"`
	Graphs      []FragmentGraph `json:"graphs"`
	ShowMetrics *bool           `json:"showMetrics,omitempty"`
	Mode        string          `json:"mode,omitempty"`
}

// FragmentGraph names one graph in a fragment.
type FragmentGraph struct {
	Service string `json:"service"`
	Metric  string `json:"metric"`
	Stat    string `json:"stat"`
}

// Spec returns the metric spec the graph shows.
func (g FragmentGraph) Spec() protocol.MetricSpec {
	return protocol.MetricSpec{Service: g.Service, Metric: g.Metric, Statistic: g.Stat}
}

// State captures the current connections, graphs and view settings.
func (d *Dashboard) State() FragmentState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := FragmentState{
		Connections: []string{},
		Graphs:      make([]FragmentGraph, 0, len(d.order)),
		Mode:        d.view,
	}
	show := d.showMetrics
	st.ShowMetrics = &show
	if d.conns != nil {
		st.Connections = append(st.Connections, d.conns.Servers()...)
	}
	for _, id := range d.order {
		spec := d.specs[id]
		st.Graphs = append(st.Graphs, FragmentGraph{Service: spec.Service, Metric: spec.Metric, Stat: spec.Statistic})
	}
	return st
}

// Fragment encodes the dashboard state as a URL fragment.
func (d *Dashboard) Fragment() (string, error) {
	data, err := json.Marshal(d.State())
	if err != nil {
		return "", errors.WrapInvalid(err, "Dashboard", "Fragment", "state encode")
	}
	return FragmentPrefix + EncodeURIComponent(string(data)), nil
}

// ParseFragment decodes a fragment produced by Fragment.
func ParseFragment(fragment string) (*FragmentState, error) {
	raw := strings.TrimPrefix(fragment, FragmentPrefix)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Dashboard", "ParseFragment", "unescape")
	}
	var st *FragmentState
	if err := json.Unmarshal([]byte(decoded), &st); err != nil {
		return nil, errors.WrapInvalid(err, "Dashboard", "ParseFragment", "state decode")
	}
	return st, nil
}

// ApplyFragment restores a fragment: view settings first, then every
// connection, then every graph. A null state changes nothing.
func (d *Dashboard) ApplyFragment(fragment string) error {
	st, err := ParseFragment(fragment)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}

	mode := st.Mode
	if mode == "" {
		mode = ViewGraph
	}
	show := true
	if st.ShowMetrics != nil {
		show = *st.ShowMetrics
	}

	d.mu.Lock()
	d.view = mode
	d.showMetrics = show
	conns := d.conns
	d.mu.Unlock()

	if conns != nil {
		for _, server := range st.Connections {
			if err := conns.Connect(server); err != nil {
				d.logger.Warn("Skipping connection from fragment", "server", server, "error", err)
			}
		}
	}
	for _, g := range st.Graphs {
		d.AddGraph(g.Spec())
	}
	return nil
}

// SetView switches between the graph and gauge layouts.
func (d *Dashboard) SetView(mode string) error {
	if mode != ViewGraph && mode != ViewGauge {
		return errors.WrapInvalid(errors.ErrInvalidData, "Dashboard", "SetView", "mode "+mode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view = mode
	return nil
}

// View returns the layout mode.
func (d *Dashboard) View() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.view
}

// MetricsVisible reports whether the metric browser is shown.
func (d *Dashboard) MetricsVisible() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.showMetrics
}

// EncodeURIComponent escapes s the way browsers' encodeURIComponent does.
func EncodeURIComponent(s string) string {
	out := strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	return uriUnreserved.Replace(out)
}

var uriUnreserved = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
