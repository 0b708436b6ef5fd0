package protocol

import (
	"strings"
)

// Version identifies the wire encoding an endpoint speaks. It is fixed per
// endpoint URL; nothing is negotiated over the socket.
type Version int

// Protocol versions.
const (
	V1 Version = 1
	V2 Version = 2
)

// String returns "v1" or "v2".
func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return "unknown"
	}
}

// MetricSpec identifies one subscribable series. Equality is structural.
type MetricSpec struct {
	Service   string `json:"service"`
	Metric    string `json:"metric"`
	Statistic string `json:"statistic"`
}

// ID returns the routing key shared by graphs and catalog nodes:
// idify(service)_idify(metric)_idify(statistic).
func (s MetricSpec) ID() string {
	return Idify(s.Service) + "_" + Idify(s.Metric) + "_" + Idify(s.Statistic)
}

// String returns "service/metric/statistic" for logs.
func (s MetricSpec) String() string {
	return s.Service + "/" + s.Metric + "/" + s.Statistic
}

var idReplacer = strings.NewReplacer(" ", "_", "/", "_")

// Idify lowercases a name and replaces spaces and slashes with underscores.
func Idify(name string) string {
	return idReplacer.Replace(strings.ToLower(name))
}
