package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/protocol"
)

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func sampleCatalog() []protocol.ServiceNode {
	return []protocol.ServiceNode{
		{Name: "web10", Children: []protocol.MetricNode{
			{Name: "latency", Children: []protocol.StatisticNode{{Name: "p99"}, {Name: "max"}}},
		}},
		{Name: "web2", Children: []protocol.MetricNode{
			{Name: "http/status/5xx", Children: []protocol.StatisticNode{{Name: "count"}}},
			{Name: "http/status/2xx", Children: []protocol.StatisticNode{{Name: "count"}}},
			{Name: "cpu", Children: []protocol.StatisticNode{{Name: "max"}}},
		}},
	}
}

func TestTree_BindSortsNaturally(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	services := tree.Services()
	require.Equal(t, []string{"web2", "web10"}, names(services))

	web2 := services[0]
	assert.Equal(t, KindService, web2.Kind)
	assert.Equal(t, []string{"http"}, names(web2.Folders))
	assert.Equal(t, []string{"cpu"}, names(web2.Children))

	status := web2.Folders[0].Folders[0]
	assert.Equal(t, "status", status.Name)
	assert.Equal(t, KindFolder, status.Kind)
	assert.Equal(t, []string{"2xx", "5xx"}, names(status.Children))

	latency := services[1].Children[0]
	assert.Equal(t, []string{"max", "p99"}, names(latency.Children))
	leaf := latency.Children[0]
	assert.Equal(t, KindStatistic, leaf.Kind)
	assert.Equal(t, "web10_latency_max", leaf.ID)
	require.NotNil(t, leaf.Spec)
	assert.Equal(t, protocol.MetricSpec{Service: "web10", Metric: "latency", Statistic: "max"}, *leaf.Spec)
}

func TestTree_SpecsInTreeOrder(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	assert.Equal(t, []protocol.MetricSpec{
		{Service: "web2", Metric: "http/status/2xx", Statistic: "count"},
		{Service: "web2", Metric: "http/status/5xx", Statistic: "count"},
		{Service: "web2", Metric: "cpu", Statistic: "max"},
		{Service: "web10", Metric: "latency", Statistic: "max"},
		{Service: "web10", Metric: "latency", Statistic: "p99"},
	}, tree.Specs())
}

func TestTree_BindIsIdempotent(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())
	tree.Bind(sampleCatalog())

	assert.Len(t, tree.Specs(), 5)
}

func TestTree_AddNewMetric(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	spec := protocol.MetricSpec{Service: "db", Metric: "pool/active", Statistic: "max"}
	tree.NewMetric("host", spec)
	tree.AddNewMetric(spec)

	assert.True(t, tree.Has(spec))
	assert.Equal(t, []string{"db", "web2", "web10"}, names(tree.Services()))
	assert.Len(t, tree.Specs(), 6)
	assert.False(t, tree.Has(protocol.MetricSpec{Service: "db", Metric: "pool/idle", Statistic: "max"}))
	assert.False(t, tree.Has(protocol.MetricSpec{Service: "nope", Metric: "x", Statistic: "max"}))
}

func TestTree_ServicesIsACopy(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	services := tree.Services()
	services[0].Name = "changed"
	services[0].Children[0].Children[0].Spec.Statistic = "changed"

	assert.Equal(t, "web2", tree.Services()[0].Name)
	assert.True(t, tree.Has(protocol.MetricSpec{Service: "web2", Metric: "cpu", Statistic: "max"}))
}

func TestCompileSearch(t *testing.T) {
	tests := []struct {
		term    string
		match   []string
		noMatch []string
	}{
		{"lat", []string{"latency", "LATENCY", "p_lat"}, []string{"cpu"}},
		{"a.b", []string{"xa.by"}, []string{"aXb"}},
		{"/^web[0-9]+$/", []string{"web2", "WEB10"}, []string{"webx", "myweb2"}},
		{"w*0", []string{"web10", "w0"}, []string{"web2"}},
		{"web?", []string{"web2", "web10"}, []string{"we"}},
		{"h?tp/*x", []string{"http/5xx"}, []string{"http"}},
		{"/", []string{"http/status"}, []string{"cpu"}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			re, err := CompileSearch(tt.term)
			require.NoError(t, err)
			for _, s := range tt.match {
				assert.True(t, re.MatchString(s), "%q should match %q", tt.term, s)
			}
			for _, s := range tt.noMatch {
				assert.False(t, re.MatchString(s), "%q should not match %q", tt.term, s)
			}
		})
	}
}

func TestTree_SearchInvalidRegex(t *testing.T) {
	tree := NewTree(nil)
	err := tree.Search("/[unclosed/")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTree_SearchVisibility(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	require.NoError(t, tree.Search("5xx"))
	services := tree.Services()
	web2, web10 := services[0], services[1]

	assert.True(t, web2.Visible)
	assert.True(t, web2.Expanded)
	assert.False(t, web10.Visible)

	http := web2.Folders[0]
	status := http.Folders[0]
	assert.True(t, http.Expanded)
	assert.True(t, status.Expanded)
	assert.True(t, status.Children[1].Visible, "5xx matches")
	assert.False(t, status.Children[1].Expanded)
	assert.False(t, status.Children[0].Visible, "2xx does not")
	assert.False(t, web2.Children[0].Visible, "cpu does not")

	assert.Equal(t, []protocol.MetricSpec{
		{Service: "web2", Metric: "http/status/5xx", Statistic: "count"},
	}, tree.VisibleSpecs())
}

func TestTree_SearchMatchShowsDescendants(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	require.NoError(t, tree.Search("web10"))
	web10 := tree.Services()[1]

	assert.True(t, web10.Visible)
	assert.False(t, web10.Expanded)
	assert.True(t, web10.Children[0].Visible, "children of a match stay visible")
}

func TestTree_EmptySearchResets(t *testing.T) {
	tree := NewTree(nil)
	tree.Bind(sampleCatalog())

	require.NoError(t, tree.Search("5xx"))
	require.NoError(t, tree.Search(""))

	for _, svc := range tree.Services() {
		assert.True(t, svc.Visible)
		assert.False(t, svc.Expanded)
	}
	assert.Len(t, tree.VisibleSpecs(), 5)
}
