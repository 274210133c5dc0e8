package models

import "time"

// Metric categories carried by a snapshot. The ingest payload tags each
// sub-reading with one of these; the query API filters on them.
const (
	CategoryCPU          = "cpu"
	CategoryMemory       = "memory"
	CategoryDisk         = "disk"
	CategoryDiskIO       = "disk_io"
	CategoryNetwork      = "network"
	CategoryContainers   = "containers"
	CategoryHealthChecks = "health_checks"
	CategoryCluster      = "cluster"
)

// MetricSnapshot is one normalized observation for an entity at one
// timestamp. Sub-readings the source did not report are nil; consumers must
// treat a nil section as "not measured", not as zero.
//
// Exactly one snapshot exists per (entity, timestamp) in the store; a
// duplicate timestamp from an agent retry overwrites the earlier row.
type MetricSnapshot struct {
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`

	CPU        *CPUMetrics       `json:"cpu,omitempty"`
	Memory     *MemoryMetrics    `json:"memory,omitempty"`
	Disk       *DiskMetrics      `json:"disk,omitempty"`
	Network    *NetworkMetrics   `json:"network,omitempty"`
	Containers []ContainerMetric `json:"containers,omitempty"`
	Services   []ServiceCheck    `json:"services,omitempty"`
	Cluster    *ClusterMetrics   `json:"cluster,omitempty"`
}

// CPUMetrics holds processor utilization and load.
type CPUMetrics struct {
	// Percent is the aggregate utilization across all cores (0-100).
	// When a source reports only per-core values this is their mean.
	Percent float64 `json:"percent"`

	// PerCore is the per-core utilization as reported, if any.
	PerCore []float64 `json:"per_core,omitempty"`

	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// MemoryMetrics holds RAM and swap usage in bytes and percent.
type MemoryMetrics struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	Percent        float64 `json:"percent"`

	SwapTotalBytes uint64  `json:"swap_total_bytes,omitempty"`
	SwapUsedBytes  uint64  `json:"swap_used_bytes,omitempty"`
	SwapPercent    float64 `json:"swap_percent,omitempty"`
}

// DiskPartition is one mounted filesystem. Identity is (device, mountpoint);
// sources that only report a mount label use it for both fields.
type DiskPartition struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	Percent    float64 `json:"percent"`
}

// DiskMetrics holds filesystem usage plus aggregate I/O throughput.
//
// ReadBytesPerSec/WriteBytesPerSec are rates. ReadBytesTotal and
// WriteBytesTotal are cumulative counters as reported by the source; the
// normalizer never turns counters into rates (the coordinator fills rates
// from the previous snapshot when it can).
type DiskMetrics struct {
	Partitions []DiskPartition `json:"partitions,omitempty"`

	ReadBytesPerSec  float64 `json:"read_bytes_per_sec"`
	WriteBytesPerSec float64 `json:"write_bytes_per_sec"`

	ReadBytesTotal  uint64 `json:"read_bytes_total,omitempty"`
	WriteBytesTotal uint64 `json:"write_bytes_total,omitempty"`
}

// NetworkInterface holds cumulative byte counters for one interface.
type NetworkInterface struct {
	Name      string `json:"name"`
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

// NetworkMetrics holds aggregate throughput rates plus per-interface
// counters. Rate fields are zero when the source only ships counters.
type NetworkMetrics struct {
	SentBytesPerSec float64 `json:"sent_bytes_per_sec"`
	RecvBytesPerSec float64 `json:"recv_bytes_per_sec"`

	Interfaces []NetworkInterface `json:"interfaces,omitempty"`
}

// ContainerMetric is the per-container resource usage reported by an agent.
type ContainerMetric struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
}

// Service check states.
const (
	CheckHealthy   = "healthy"
	CheckUnhealthy = "unhealthy"
	CheckUnknown   = "unknown"
)

// ServiceCheck is one application-level probe result (HTTP check, port
// check, systemd unit, ...) bundled with the metric batch.
type ServiceCheck struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// ClusterMetrics is the aggregate view of a Kubernetes cluster produced by
// the poller.
type ClusterMetrics struct {
	NodesTotal       int     `json:"nodes_total"`
	NodesReady       int     `json:"nodes_ready"`
	PodsTotal        int     `json:"pods_total"`
	PodsRunning      int     `json:"pods_running"`
	DeploymentsTotal int     `json:"deployments_total"`
	DeploymentsReady int     `json:"deployments_ready"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
}

// HasCategory reports whether the snapshot carries a sub-reading of the
// given category.
func (s *MetricSnapshot) HasCategory(category string) bool {
	switch category {
	case CategoryCPU:
		return s.CPU != nil
	case CategoryMemory:
		return s.Memory != nil
	case CategoryDisk, CategoryDiskIO:
		return s.Disk != nil
	case CategoryNetwork:
		return s.Network != nil
	case CategoryContainers:
		return len(s.Containers) > 0
	case CategoryHealthChecks:
		return len(s.Services) > 0
	case CategoryCluster:
		return s.Cluster != nil
	}
	return false
}

// UnhealthyServices counts service checks in the unhealthy state.
func (s *MetricSnapshot) UnhealthyServices() int {
	n := 0
	for _, check := range s.Services {
		if check.Status == CheckUnhealthy {
			n++
		}
	}
	return n
}

// Clone returns a deep copy. The store hands copies out so readers can
// never alias cached snapshot internals.
func (s MetricSnapshot) Clone() MetricSnapshot {
	out := s
	if s.CPU != nil {
		cpu := *s.CPU
		cpu.PerCore = append([]float64(nil), s.CPU.PerCore...)
		out.CPU = &cpu
	}
	if s.Memory != nil {
		mem := *s.Memory
		out.Memory = &mem
	}
	if s.Disk != nil {
		disk := *s.Disk
		disk.Partitions = append([]DiskPartition(nil), s.Disk.Partitions...)
		out.Disk = &disk
	}
	if s.Network != nil {
		net := *s.Network
		net.Interfaces = append([]NetworkInterface(nil), s.Network.Interfaces...)
		out.Network = &net
	}
	out.Containers = append([]ContainerMetric(nil), s.Containers...)
	out.Services = append([]ServiceCheck(nil), s.Services...)
	if s.Cluster != nil {
		cl := *s.Cluster
		out.Cluster = &cl
	}
	return out
}
