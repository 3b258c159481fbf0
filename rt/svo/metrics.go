package svo

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	passLabel     = "pass"
	levelLabel    = "level"
	resourceLabel = "resource"
)

var (
	svoPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "svo_pass_duration_seconds",
		Help:    "CPU time spent issuing or executing a pipeline pass.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	}, []string{passLabel})

	svoPassErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "svo_pass_errors_total",
		Help: "The number of pipeline passes that returned an error.",
	}, []string{passLabel})

	svoVoxelFragments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "svo_voxel_fragments",
		Help: "The number of voxel fragments produced by the last voxelization.",
	})

	svoPoolNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "svo_pool_nodes",
		Help: "The number of node pool slots in use after the last build.",
	})

	svoLevelNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "svo_level_nodes",
		Help: "The number of node slots per octree level after the last build.",
	}, []string{levelLabel})

	svoOccupiedNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "svo_occupied_nodes",
		Help: "The number of nodes containing fragments per octree level after the last build.",
	}, []string{levelLabel})

	svoCapacityOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "svo_capacity_overflows_total",
		Help: "The number of builds that ran out of fragment list or node pool capacity.",
	}, []string{resourceLabel})
)

func observe(k Kind, fn func() error) error {
	timer := prometheus.NewTimer(svoPassDuration.With(prometheus.Labels{passLabel: k.String()}))
	err := fn()
	timer.ObserveDuration()
	if err != nil {
		svoPassErrors.With(prometheus.Labels{passLabel: k.String()}).Inc()
	}
	return err
}

// RecordStats publishes the result of a build when the backend can report it.
func RecordStats(ctx context.Context, b Backend) (Stats, bool, error) {
	r, ok := b.(StatsReporter)
	if !ok {
		return Stats{}, false, nil
	}
	s, err := r.Stats(ctx)
	if err != nil {
		return s, true, err
	}
	instrumentStats(s)
	return s, true, nil
}

func instrumentStats(s Stats) {
	svoVoxelFragments.Set(float64(s.Fragments))
	svoPoolNodes.Set(float64(s.Pool.Nodes))
	for l := range s.Pool.LevelNodes {
		lbl := prometheus.Labels{levelLabel: strconv.Itoa(l)}
		svoLevelNodes.With(lbl).Set(float64(s.Pool.LevelNodes[l]))
		svoOccupiedNodes.With(lbl).Set(float64(s.Pool.OccupiedNodes[l]))
	}
	if s.Pool.Overflowed {
		svoCapacityOverflows.With(prometheus.Labels{resourceLabel: "node_pool"}).Inc()
	}
}

func instrumentFragmentOverflow() {
	svoCapacityOverflows.With(prometheus.Labels{resourceLabel: "fragment_list"}).Inc()
}
