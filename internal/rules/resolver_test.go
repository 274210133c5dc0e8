package rules

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/normalizer"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

func fullSnapshot() models.MetricSnapshot {
	return models.MetricSnapshot{
		EntityID: "host:a",
		CPU: &models.CPUMetrics{
			Percent: 42.5,
			Load1:   1.2,
			Load5:   0.8,
			Load15:  0.5,
		},
		Memory: &models.MemoryMetrics{
			TotalBytes:     16e9,
			UsedBytes:      8e9,
			AvailableBytes: 8e9,
			Percent:        50,
			SwapTotalBytes: 2e9,
			SwapUsedBytes:  1e9,
			SwapPercent:    50,
		},
		Disk: &models.DiskMetrics{
			Partitions: []models.DiskPartition{
				{Device: "/dev/sda1", Mountpoint: "/", TotalBytes: 100, UsedBytes: 90, Percent: 90},
				{Device: "/dev/sdb1", Mountpoint: "/data", TotalBytes: 300, UsedBytes: 30, Percent: 10},
			},
			ReadBytesPerSec:  1024,
			WriteBytesPerSec: 2048,
		},
		Network: &models.NetworkMetrics{
			SentBytesPerSec: 500,
			RecvBytesPerSec: 700,
		},
		Containers: []models.ContainerMetric{
			{ID: "c1", Name: "db", Status: "running"},
			{ID: "c2", Name: "cache", Status: "running"},
			{ID: "c3", Name: "backup", Status: "exited"},
		},
		Services: []models.ServiceCheck{
			{Name: "http", Status: models.CheckHealthy},
			{Name: "dns", Status: models.CheckUnhealthy},
			{Name: "ntp", Status: models.CheckUnknown},
		},
		Cluster: &models.ClusterMetrics{
			NodesTotal:       3,
			NodesReady:       2,
			PodsTotal:        40,
			PodsRunning:      38,
			DeploymentsTotal: 10,
			DeploymentsReady: 9,
			CPUPercent:       61.5,
			MemoryPercent:    70.25,
		},
	}
}

func TestResolveKnownPaths(t *testing.T) {
	snap := fullSnapshot()

	tests := []struct {
		metric string
		want   float64
	}{
		{"cpu.percent", 42.5},
		{"cpu.load1", 1.2},
		{"cpu.load5", 0.8},
		{"cpu.load15", 0.5},
		{"memory.percent", 50},
		{"memory.used_bytes", 8e9},
		{"memory.total_bytes", 16e9},
		{"memory.available_bytes", 8e9},
		{"memory.swap_percent", 50},
		{"memory.swap_used_bytes", 1e9},
		{"memory.swap_total_bytes", 2e9},
		{"disk.percent", 30}, // (90+30)/(100+300)
		{"disk.read_bytes_per_sec", 1024},
		{"disk.write_bytes_per_sec", 2048},
		{"network.sent_bytes_per_sec", 500},
		{"network.recv_bytes_per_sec", 700},
		{"containers.count", 3},
		{"containers.running", 2},
		{"services.total", 3},
		{"services.unhealthy", 1},
		{"cluster.nodes_total", 3},
		{"cluster.nodes_ready", 2},
		{"cluster.pods_total", 40},
		{"cluster.pods_running", 38},
		{"cluster.deployments_total", 10},
		{"cluster.deployments_ready", 9},
		{"cluster.cpu_percent", 61.5},
		{"cluster.memory_percent", 70.25},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, ok := Resolve(snap, tt.metric)
			if !ok {
				t.Fatalf("Resolve(%q) not evaluable", tt.metric)
			}
			if got != tt.want {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.metric, got, tt.want)
			}
			if !KnownMetric(tt.metric) {
				t.Fatalf("KnownMetric(%q) = false", tt.metric)
			}
		})
	}
}

func TestResolveAbsentSections(t *testing.T) {
	empty := models.MetricSnapshot{EntityID: "host:a"}

	for _, metric := range []string{
		"cpu.percent", "memory.percent", "disk.percent",
		"disk.read_bytes_per_sec", "network.sent_bytes_per_sec",
		"containers.count", "services.unhealthy", "cluster.nodes_ready",
	} {
		if _, ok := Resolve(empty, metric); ok {
			t.Errorf("Resolve(%q) on empty snapshot should not be evaluable", metric)
		}
	}

	// Disk section present but without partitions: usage percent has no
	// basis, the rate fields still resolve.
	ioOnly := models.MetricSnapshot{
		EntityID: "host:a",
		Disk:     &models.DiskMetrics{ReadBytesPerSec: 10},
	}
	if _, ok := Resolve(ioOnly, "disk.percent"); ok {
		t.Error("disk.percent without partitions should not be evaluable")
	}
	if got, ok := Resolve(ioOnly, "disk.read_bytes_per_sec"); !ok || got != 10 {
		t.Errorf("disk.read_bytes_per_sec = %v, %v; want 10, true", got, ok)
	}
}

func TestResolveUnknownPath(t *testing.T) {
	snap := fullSnapshot()
	if _, ok := Resolve(snap, "cpu.bogus"); ok {
		t.Error("unknown path must not resolve")
	}
	if KnownMetric("cpu.bogus") {
		t.Error("KnownMetric must reject unknown paths")
	}
}

// Values that enter through the normalizer must come back out of the
// resolver unchanged, otherwise rules silently evaluate against garbage.
func TestResolveNormalizedBatch(t *testing.T) {
	n := normalizer.New(zap.NewNop())
	batch := models.RawBatch{
		Timestamp: time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC),
		Readings: []models.RawReading{
			{Type: models.CategoryCPU, Data: json.RawMessage(`{"percent": 42.5, "load_avg": [1.2, 0.8, 0.5]}`)},
			{Type: models.CategoryMemory, Data: json.RawMessage(`{"total": 16000000000, "used": 8000000000, "percent": 50}`)},
			{Type: models.CategoryDisk, Data: json.RawMessage(`{"partitions": [{"device": "/dev/sda1", "mountpoint": "/", "total": 1000, "used": 900, "percent": 90}]}`)},
			{Type: models.CategoryContainers, Data: json.RawMessage(`[{"id": "c1", "name": "db", "status": "running"}, {"id": "c2", "name": "backup", "status": "exited"}]`)},
			{Type: models.CategoryHealthChecks, Data: json.RawMessage(`[{"name": "http", "status": "healthy"}, {"name": "dns", "status": "unhealthy"}]`)},
			{Type: models.CategoryCluster, Data: json.RawMessage(`{"nodes_total": 3, "nodes_ready": 2, "cpu_percent": 61.5}`)},
		},
	}

	snap, err := n.Normalize("host:rt-01", batch)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	tests := []struct {
		metric string
		want   float64
	}{
		{"cpu.percent", 42.5},
		{"cpu.load1", 1.2},
		{"cpu.load15", 0.5},
		{"memory.percent", 50},
		{"memory.used_bytes", 8e9},
		{"memory.total_bytes", 16e9},
		{"disk.percent", 90},
		{"containers.count", 2},
		{"containers.running", 1},
		{"services.total", 2},
		{"services.unhealthy", 1},
		{"cluster.nodes_ready", 2},
		{"cluster.cpu_percent", 61.5},
	}
	for _, tt := range tests {
		got, ok := Resolve(snap, tt.metric)
		if !ok {
			t.Fatalf("Resolve(%q) not evaluable after normalization", tt.metric)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %v, want %v", tt.metric, got, tt.want)
		}
	}
}
