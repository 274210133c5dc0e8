package poller

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// SimulatedSource fabricates plausible cluster metrics with a small random
// walk. Utilization drifts between polls, a pod occasionally flaps, and once
// in a while a node drops out of ready.
type SimulatedSource struct {
	mu  sync.Mutex
	rng *rand.Rand

	cpu float64
	mem float64

	nodes       int
	pods        int
	deployments int
}

// NewSimulatedSource creates a source for a modest three-node cluster.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		cpu:         35,
		mem:         50,
		nodes:       3,
		pods:        24,
		deployments: 8,
	}
}

// Collect implements Source.
func (s *SimulatedSource) Collect(_ context.Context) (models.RawBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cpu = clamp(s.cpu+(s.rng.Float64()-0.5)*8, 2, 98)
	s.mem = clamp(s.mem+(s.rng.Float64()-0.5)*4, 5, 95)

	nodesReady := s.nodes
	if s.rng.Float64() < 0.02 {
		nodesReady--
	}
	podsRunning := s.pods - s.rng.Intn(2)
	deploymentsReady := s.deployments
	if podsRunning < s.pods {
		deploymentsReady--
	}

	cluster := models.ClusterMetrics{
		NodesTotal:       s.nodes,
		NodesReady:       nodesReady,
		PodsTotal:        s.pods,
		PodsRunning:      podsRunning,
		DeploymentsTotal: s.deployments,
		DeploymentsReady: deploymentsReady,
		CPUPercent:       s.cpu,
		MemoryPercent:    s.mem,
	}
	data, err := json.Marshal(cluster)
	if err != nil {
		return models.RawBatch{}, err
	}

	return models.RawBatch{
		Timestamp: time.Now().UTC(),
		Readings: []models.RawReading{{
			Type: models.CategoryCluster,
			Data: data,
		}},
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
