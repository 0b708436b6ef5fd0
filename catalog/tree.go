// Package catalog keeps the browsable tree of metrics advertised by the
// connected aggregators.
//
// The tree has services at the root; metric names are split on "/" into
// folders; metric nodes hold one leaf per statistic. Every sibling list is
// kept in natural order and looked up by binary search.
package catalog

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/pkg/natural"
	"github.com/c360/streamview/protocol"
)

// Kind is the role of a node in the tree.
type Kind string

// Node kinds.
const (
	KindService   Kind = "service"
	KindFolder    Kind = "folder"
	KindMetric    Kind = "metric"
	KindStatistic Kind = "statistic"
)

// Node is one entry of the tree. Services and folders hold Folders and
// metric Children; metrics hold statistic Children; statistics carry Spec.
type Node struct {
	Name     string               `json:"name"`
	ID       string               `json:"id"`
	Kind     Kind                 `json:"kind"`
	Spec     *protocol.MetricSpec `json:"spec,omitempty"`
	Folders  []*Node              `json:"folders,omitempty"`
	Children []*Node              `json:"children,omitempty"`
	Visible  bool                 `json:"visible"`
	Expanded bool                 `json:"expanded"`
}

func newNode(kind Kind, name, id string) *Node {
	return &Node{Name: name, ID: id, Kind: kind, Visible: true}
}

func (n *Node) clone() *Node {
	c := *n
	if n.Spec != nil {
		spec := *n.Spec
		c.Spec = &spec
	}
	c.Folders = cloneAll(n.Folders)
	c.Children = cloneAll(n.Children)
	return &c
}

func cloneAll(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.clone()
	}
	return out
}

// Tree is safe for concurrent use.
type Tree struct {
	mu       sync.RWMutex
	services []*Node
	logger   *slog.Logger
}

// NewTree returns an empty tree.
func NewTree(logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tree{logger: logger.With("component", "catalog")}
}

// Bind merges a full catalog into the tree. Existing nodes are kept.
func (t *Tree) Bind(services []protocol.ServiceNode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, svc := range services {
		svcNode := t.findOrCreateService(svc.Name)
		for _, m := range svc.Children {
			metricNode := addMetric(svcNode, strings.Split(m.Name, "/"))
			for _, st := range m.Children {
				addStatistic(metricNode, protocol.MetricSpec{Service: svc.Name, Metric: m.Name, Statistic: st.Name})
				count++
			}
		}
	}
	t.logger.Debug("Bound metric catalog", "services", len(services), "statistics", count)
}

// AddNewMetric inserts a single series announced after the catalog.
func (t *Tree) AddNewMetric(spec protocol.MetricSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()

	svcNode := t.findOrCreateService(spec.Service)
	metricNode := addMetric(svcNode, strings.Split(spec.Metric, "/"))
	addStatistic(metricNode, spec)
}

// MetricsList implements protocol.MetricSink.
func (t *Tree) MetricsList(_ string, services []protocol.ServiceNode) { t.Bind(services) }

// NewMetric implements protocol.MetricSink.
func (t *Tree) NewMetric(_ string, spec protocol.MetricSpec) { t.AddNewMetric(spec) }

// Report implements protocol.MetricSink. Data does not change the catalog.
func (t *Tree) Report(string, protocol.Report) {}

func (t *Tree) findOrCreateService(name string) *Node {
	if n := find(t.services, name); n != nil {
		return n
	}
	n := newNode(KindService, name, protocol.Idify(name))
	t.services = insertSorted(t.services, n)
	return n
}

// addMetric walks parts as folders and returns the metric node named by
// the last part, creating nodes as needed.
func addMetric(parent *Node, parts []string) *Node {
	name := parts[0]
	if len(parts) > 1 {
		folder := find(parent.Folders, name)
		if folder == nil {
			folder = newNode(KindFolder, name, protocol.Idify(name))
			parent.Folders = insertSorted(parent.Folders, folder)
		}
		return addMetric(folder, parts[1:])
	}

	metric := find(parent.Children, name)
	if metric == nil {
		metric = newNode(KindMetric, name, protocol.Idify(name))
		parent.Children = insertSorted(parent.Children, metric)
	}
	return metric
}

func addStatistic(metric *Node, spec protocol.MetricSpec) {
	if find(metric.Children, spec.Statistic) != nil {
		return
	}
	leaf := newNode(KindStatistic, spec.Statistic, spec.ID())
	leaf.Spec = &spec
	metric.Children = insertSorted(metric.Children, leaf)
}

// find binary-searches a naturally sorted sibling list for an exact name.
func find(nodes []*Node, name string) *Node {
	i := sort.Search(len(nodes), func(i int) bool { return natural.Compare(nodes[i].Name, name) >= 0 })
	for ; i < len(nodes) && natural.Compare(nodes[i].Name, name) == 0; i++ {
		if nodes[i].Name == name {
			return nodes[i]
		}
	}
	return nil
}

func insertSorted(nodes []*Node, n *Node) []*Node {
	i := sort.Search(len(nodes), func(i int) bool { return natural.Compare(nodes[i].Name, n.Name) > 0 })
	nodes = append(nodes, nil)
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = n
	return nodes
}

// Services returns a deep copy of the tree.
func (t *Tree) Services() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneAll(t.services)
}

// Specs lists every statistic in tree order.
func (t *Tree) Specs() []protocol.MetricSpec {
	return t.collect(false)
}

// VisibleSpecs lists the statistics under visible metrics after a search.
func (t *Tree) VisibleSpecs() []protocol.MetricSpec {
	return t.collect(true)
}

func (t *Tree) collect(visibleOnly bool) []protocol.MetricSpec {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []protocol.MetricSpec
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			if visibleOnly && n.Kind != KindStatistic && !n.Visible {
				continue
			}
			if n.Spec != nil {
				out = append(out, *n.Spec)
			}
			walk(n.Folders)
			walk(n.Children)
		}
	}
	walk(t.services)
	return out
}

// Has reports whether spec is in the catalog.
func (t *Tree) Has(spec protocol.MetricSpec) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := find(t.services, spec.Service)
	if n == nil {
		return false
	}
	parts := strings.Split(spec.Metric, "/")
	for _, p := range parts[:len(parts)-1] {
		if n = find(n.Folders, p); n == nil {
			return false
		}
	}
	if n = find(n.Children, parts[len(parts)-1]); n == nil {
		return false
	}
	return find(n.Children, spec.Statistic) != nil
}

// CompileSearch turns a search term into a case-insensitive pattern:
// "/expr/" is a regular expression, a term containing * or ? is a wildcard
// (* any run, ? any one character), anything else matches as a substring.
func CompileSearch(term string) (*regexp.Regexp, error) {
	var pattern string
	switch {
	case len(term) >= 2 && term[0] == '/' && term[len(term)-1] == '/':
		pattern = term[1 : len(term)-1]
	case strings.ContainsAny(term, "*?"):
		var b strings.Builder
		for _, r := range term {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		pattern = b.String()
	default:
		pattern = regexp.QuoteMeta(term)
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"Tree", "Search", "compile search term")
	}
	return re, nil
}

// Search updates Visible and Expanded on every non-statistic node. A node
// is visible when it, an ancestor or a descendant matches; it is expanded
// when a descendant matches. An empty term shows everything collapsed.
func (t *Tree) Search(term string) error {
	re, err := CompileSearch(term)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	searchNodes(term == "", re, t.services, false)
	return nil
}

func searchNodes(reset bool, re *regexp.Regexp, nodes []*Node, forceVisible bool) bool {
	matched := false
	for _, n := range nodes {
		if n.Kind == KindStatistic {
			continue
		}
		found := re.MatchString(n.Name)
		inFolders := searchNodes(reset, re, n.Folders, forceVisible || found)
		inChildren := searchNodes(reset, re, n.Children, forceVisible || found)
		below := inFolders || inChildren

		switch {
		case reset:
			n.Expanded, n.Visible = false, true
		case below:
			n.Expanded, n.Visible = true, true
		case found:
			n.Expanded, n.Visible = false, true
		default:
			n.Expanded, n.Visible = false, forceVisible
		}
		matched = matched || below || found
	}
	return matched
}
