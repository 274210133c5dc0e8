package rules

import "github.com/louissader/homelab-infrastructure-monitor/models"

// Resolve extracts the metric a rule targets from a snapshot. Paths follow
// the snapshot's JSON field names so that a value visible in the query API
// is addressable by the same name in a rule:
//
//	cpu.percent, cpu.load1, cpu.load5, cpu.load15
//	memory.percent, memory.used_bytes, memory.total_bytes,
//	memory.available_bytes, memory.swap_percent, memory.swap_used_bytes,
//	memory.swap_total_bytes
//	disk.percent (used/total across all partitions)
//	disk.read_bytes_per_sec, disk.write_bytes_per_sec
//	network.sent_bytes_per_sec, network.recv_bytes_per_sec
//	containers.count, containers.running
//	services.total, services.unhealthy
//	cluster.nodes_total, cluster.nodes_ready, cluster.pods_total,
//	cluster.pods_running, cluster.deployments_total,
//	cluster.deployments_ready, cluster.cpu_percent, cluster.memory_percent
//
// ok is false when the snapshot does not carry the section backing the
// metric, or the path is unknown. containers.* and services.* need a
// non-empty list; disk.percent needs at least one partition with a nonzero
// total.
func Resolve(snap models.MetricSnapshot, metric string) (float64, bool) {
	switch metric {
	case "cpu.percent":
		if snap.CPU == nil {
			return 0, false
		}
		return snap.CPU.Percent, true
	case "cpu.load1":
		if snap.CPU == nil {
			return 0, false
		}
		return snap.CPU.Load1, true
	case "cpu.load5":
		if snap.CPU == nil {
			return 0, false
		}
		return snap.CPU.Load5, true
	case "cpu.load15":
		if snap.CPU == nil {
			return 0, false
		}
		return snap.CPU.Load15, true

	case "memory.percent":
		if snap.Memory == nil {
			return 0, false
		}
		return snap.Memory.Percent, true
	case "memory.used_bytes":
		if snap.Memory == nil {
			return 0, false
		}
		return float64(snap.Memory.UsedBytes), true
	case "memory.total_bytes":
		if snap.Memory == nil {
			return 0, false
		}
		return float64(snap.Memory.TotalBytes), true
	case "memory.available_bytes":
		if snap.Memory == nil {
			return 0, false
		}
		return float64(snap.Memory.AvailableBytes), true
	case "memory.swap_percent":
		if snap.Memory == nil {
			return 0, false
		}
		return snap.Memory.SwapPercent, true
	case "memory.swap_used_bytes":
		if snap.Memory == nil {
			return 0, false
		}
		return float64(snap.Memory.SwapUsedBytes), true
	case "memory.swap_total_bytes":
		if snap.Memory == nil {
			return 0, false
		}
		return float64(snap.Memory.SwapTotalBytes), true

	case "disk.percent":
		if snap.Disk == nil || len(snap.Disk.Partitions) == 0 {
			return 0, false
		}
		var used, total uint64
		for _, p := range snap.Disk.Partitions {
			used += p.UsedBytes
			total += p.TotalBytes
		}
		if total == 0 {
			return 0, false
		}
		return float64(used) / float64(total) * 100, true
	case "disk.read_bytes_per_sec":
		if snap.Disk == nil {
			return 0, false
		}
		return snap.Disk.ReadBytesPerSec, true
	case "disk.write_bytes_per_sec":
		if snap.Disk == nil {
			return 0, false
		}
		return snap.Disk.WriteBytesPerSec, true

	case "network.sent_bytes_per_sec":
		if snap.Network == nil {
			return 0, false
		}
		return snap.Network.SentBytesPerSec, true
	case "network.recv_bytes_per_sec":
		if snap.Network == nil {
			return 0, false
		}
		return snap.Network.RecvBytesPerSec, true

	case "containers.count":
		if len(snap.Containers) == 0 {
			return 0, false
		}
		return float64(len(snap.Containers)), true
	case "containers.running":
		if len(snap.Containers) == 0 {
			return 0, false
		}
		running := 0
		for _, c := range snap.Containers {
			if c.Status == "running" {
				running++
			}
		}
		return float64(running), true

	case "services.total":
		if len(snap.Services) == 0 {
			return 0, false
		}
		return float64(len(snap.Services)), true
	case "services.unhealthy":
		if len(snap.Services) == 0 {
			return 0, false
		}
		return float64(snap.UnhealthyServices()), true
	}

	if snap.Cluster != nil {
		switch metric {
		case "cluster.nodes_total":
			return float64(snap.Cluster.NodesTotal), true
		case "cluster.nodes_ready":
			return float64(snap.Cluster.NodesReady), true
		case "cluster.pods_total":
			return float64(snap.Cluster.PodsTotal), true
		case "cluster.pods_running":
			return float64(snap.Cluster.PodsRunning), true
		case "cluster.deployments_total":
			return float64(snap.Cluster.DeploymentsTotal), true
		case "cluster.deployments_ready":
			return float64(snap.Cluster.DeploymentsReady), true
		case "cluster.cpu_percent":
			return snap.Cluster.CPUPercent, true
		case "cluster.memory_percent":
			return snap.Cluster.MemoryPercent, true
		}
	}

	return 0, false
}

// KnownMetric reports whether the path names a metric Resolve understands.
// Used to validate rules at creation so a typo fails fast instead of
// silently never firing.
func KnownMetric(metric string) bool {
	switch metric {
	case "cpu.percent", "cpu.load1", "cpu.load5", "cpu.load15",
		"memory.percent", "memory.used_bytes", "memory.total_bytes",
		"memory.available_bytes", "memory.swap_percent",
		"memory.swap_used_bytes", "memory.swap_total_bytes",
		"disk.percent", "disk.read_bytes_per_sec", "disk.write_bytes_per_sec",
		"network.sent_bytes_per_sec", "network.recv_bytes_per_sec",
		"containers.count", "containers.running",
		"services.total", "services.unhealthy",
		"cluster.nodes_total", "cluster.nodes_ready",
		"cluster.pods_total", "cluster.pods_running",
		"cluster.deployments_total", "cluster.deployments_ready",
		"cluster.cpu_percent", "cluster.memory_percent":
		return true
	}
	return false
}
