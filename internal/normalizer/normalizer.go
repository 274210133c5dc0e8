// Package normalizer converts heterogeneous agent and poller payloads into
// canonical metric snapshots.
//
// Collection agents differ in what they report and how: aggregate CPU
// percent vs. a per-core array, load averages as a positional triple or a
// keyed object, I/O as rates or as cumulative counters. The normalizer
// absorbs those shapes into models.MetricSnapshot so everything downstream
// (store, rule engine, stream) sees one representation.
package normalizer

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/errs"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Normalizer is a pure transform; it holds no state beyond its logger and
// clock and is safe for concurrent use.
type Normalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{
		logger: logger.With(zap.String("component", "normalizer")),
		now:    time.Now,
	}
}

// Normalize converts a raw batch into a canonical snapshot for entityID.
//
// An empty entityID or a malformed payload under a recognized category tag
// fails with a ValidationError and no partial result. Unrecognized category
// tags are skipped with a warning so newer agents can ship categories this
// server does not know yet. Counters are preserved as counters; rates the
// source did not supply stay zero.
func (n *Normalizer) Normalize(entityID string, batch models.RawBatch) (models.MetricSnapshot, error) {
	if entityID == "" {
		return models.MetricSnapshot{}, errs.NewValidation("entity_id", "must not be empty")
	}

	ts := batch.Timestamp
	if ts.IsZero() {
		ts = n.now()
	}

	snap := models.MetricSnapshot{
		EntityID:  entityID,
		Timestamp: ts.UTC(),
	}

	for _, reading := range batch.Readings {
		var err error
		switch reading.Type {
		case models.CategoryCPU:
			err = convertCPU(reading.Data, &snap)
		case models.CategoryMemory:
			err = convertMemory(reading.Data, &snap)
		case models.CategoryDisk:
			err = convertDisk(reading.Data, &snap)
		case models.CategoryDiskIO:
			err = convertDiskIO(reading.Data, &snap)
		case models.CategoryNetwork:
			err = convertNetwork(reading.Data, &snap)
		case models.CategoryContainers:
			err = convertContainers(reading.Data, &snap)
		case models.CategoryHealthChecks:
			err = convertHealthChecks(reading.Data, &snap)
		case models.CategoryCluster:
			err = convertCluster(reading.Data, &snap)
		default:
			n.logger.Warn("skipping unknown metric category",
				zap.String("entity_id", entityID),
				zap.String("category", reading.Type))
			continue
		}
		if err != nil {
			return models.MetricSnapshot{}, errs.NewValidation(reading.Type, "malformed payload: %v", err)
		}
	}

	return snap, nil
}

// loadTriple accepts a load average as either a positional array
// [1min, 5min, 15min] or a keyed object ({"1min": ...} / {"load1": ...}).
type loadTriple struct {
	L1, L5, L15 float64
}

func (l *loadTriple) UnmarshalJSON(b []byte) error {
	var arr []float64
	if err := json.Unmarshal(b, &arr); err == nil {
		if len(arr) > 0 {
			l.L1 = arr[0]
		}
		if len(arr) > 1 {
			l.L5 = arr[1]
		}
		if len(arr) > 2 {
			l.L15 = arr[2]
		}
		return nil
	}

	var obj map[string]float64
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	pick := func(keys ...string) float64 {
		for _, k := range keys {
			if v, ok := obj[k]; ok {
				return v
			}
		}
		return 0
	}
	l.L1 = pick("1min", "load1", "1m")
	l.L5 = pick("5min", "load5", "5m")
	l.L15 = pick("15min", "load15", "15m")
	return nil
}

type rawCPU struct {
	Percent *float64    `json:"percent"`
	PerCore []float64   `json:"per_core"`
	PerCPU  []float64   `json:"per_cpu"`
	LoadAvg *loadTriple `json:"load_avg"`
}

func convertCPU(data json.RawMessage, snap *models.MetricSnapshot) error {
	var raw rawCPU
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cpu := &models.CPUMetrics{}

	perCore := raw.PerCore
	if perCore == nil {
		perCore = raw.PerCPU
	}
	cpu.PerCore = perCore

	switch {
	case raw.Percent != nil:
		cpu.Percent = *raw.Percent
	case len(perCore) > 0:
		// No aggregate supplied: the mean of the cores is the aggregate.
		sum := 0.0
		for _, v := range perCore {
			sum += v
		}
		cpu.Percent = sum / float64(len(perCore))
	}

	if raw.LoadAvg != nil {
		cpu.Load1 = raw.LoadAvg.L1
		cpu.Load5 = raw.LoadAvg.L5
		cpu.Load15 = raw.LoadAvg.L15
	}

	snap.CPU = cpu
	return nil
}

type rawMemory struct {
	Total     uint64   `json:"total"`
	Used      uint64   `json:"used"`
	Available *uint64  `json:"available"`
	Free      *uint64  `json:"free"`
	Percent   *float64 `json:"percent"`

	SwapTotal   uint64   `json:"swap_total"`
	SwapUsed    uint64   `json:"swap_used"`
	SwapPercent *float64 `json:"swap_percent"`
}

func convertMemory(data json.RawMessage, snap *models.MetricSnapshot) error {
	var raw rawMemory
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	mem := &models.MemoryMetrics{
		TotalBytes:     raw.Total,
		UsedBytes:      raw.Used,
		SwapTotalBytes: raw.SwapTotal,
		SwapUsedBytes:  raw.SwapUsed,
	}

	switch {
	case raw.Available != nil:
		mem.AvailableBytes = *raw.Available
	case raw.Free != nil:
		mem.AvailableBytes = *raw.Free
	case raw.Total >= raw.Used:
		mem.AvailableBytes = raw.Total - raw.Used
	}

	if raw.Percent != nil {
		mem.Percent = *raw.Percent
	} else if raw.Total > 0 {
		mem.Percent = float64(raw.Used) / float64(raw.Total) * 100
	}

	if raw.SwapPercent != nil {
		mem.SwapPercent = *raw.SwapPercent
	} else if raw.SwapTotal > 0 {
		mem.SwapPercent = float64(raw.SwapUsed) / float64(raw.SwapTotal) * 100
	}

	snap.Memory = mem
	return nil
}

type rawPartition struct {
	Device     string   `json:"device"`
	Mountpoint string   `json:"mountpoint"`
	Mount      string   `json:"mount"`
	Total      uint64   `json:"total"`
	Used       uint64   `json:"used"`
	Percent    *float64 `json:"percent"`
}

type rawDisk struct {
	Partitions []rawPartition `json:"partitions"`
}

func convertDisk(data json.RawMessage, snap *models.MetricSnapshot) error {
	// Accept both a wrapped {"partitions": [...]} object and a bare array.
	var raw rawDisk
	if err := json.Unmarshal(data, &raw); err != nil {
		var bare []rawPartition
		if err2 := json.Unmarshal(data, &bare); err2 != nil {
			return err
		}
		raw.Partitions = bare
	}

	disk := snap.Disk
	if disk == nil {
		disk = &models.DiskMetrics{}
	}

	for _, p := range raw.Partitions {
		part := models.DiskPartition{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			TotalBytes: p.Total,
			UsedBytes:  p.Used,
		}
		// Identity is (device, mountpoint); a lone mount label stands in
		// for both.
		if part.Mountpoint == "" {
			part.Mountpoint = p.Mount
		}
		if part.Device == "" {
			part.Device = part.Mountpoint
		}
		if part.Mountpoint == "" {
			part.Mountpoint = part.Device
		}
		if p.Percent != nil {
			part.Percent = *p.Percent
		} else if p.Total > 0 {
			part.Percent = float64(p.Used) / float64(p.Total) * 100
		}
		disk.Partitions = append(disk.Partitions, part)
	}

	snap.Disk = disk
	return nil
}

type rawDiskIO struct {
	ReadBytesPerSec  *float64 `json:"read_bytes_per_sec"`
	WriteBytesPerSec *float64 `json:"write_bytes_per_sec"`
	ReadBytes        uint64   `json:"read_bytes"`
	WriteBytes       uint64   `json:"write_bytes"`
}

func convertDiskIO(data json.RawMessage, snap *models.MetricSnapshot) error {
	var raw rawDiskIO
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	disk := snap.Disk
	if disk == nil {
		disk = &models.DiskMetrics{}
	}

	if raw.ReadBytesPerSec != nil {
		disk.ReadBytesPerSec = *raw.ReadBytesPerSec
	}
	if raw.WriteBytesPerSec != nil {
		disk.WriteBytesPerSec = *raw.WriteBytesPerSec
	}
	// Counters stay counters. Rate derivation needs the previous snapshot
	// and happens in the ingestion coordinator.
	disk.ReadBytesTotal = raw.ReadBytes
	disk.WriteBytesTotal = raw.WriteBytes

	snap.Disk = disk
	return nil
}

type rawInterface struct {
	Name      string `json:"name"`
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

type rawNetwork struct {
	SentBytesPerSec *float64       `json:"sent_bytes_per_sec"`
	RecvBytesPerSec *float64       `json:"recv_bytes_per_sec"`
	BytesSent       *uint64        `json:"bytes_sent"`
	BytesRecv       *uint64        `json:"bytes_recv"`
	Interfaces      []rawInterface `json:"interfaces"`
}

func convertNetwork(data json.RawMessage, snap *models.MetricSnapshot) error {
	var raw rawNetwork
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	net := &models.NetworkMetrics{}
	if raw.SentBytesPerSec != nil {
		net.SentBytesPerSec = *raw.SentBytesPerSec
	}
	if raw.RecvBytesPerSec != nil {
		net.RecvBytesPerSec = *raw.RecvBytesPerSec
	}

	for _, iface := range raw.Interfaces {
		net.Interfaces = append(net.Interfaces, models.NetworkInterface{
			Name:      iface.Name,
			BytesSent: iface.BytesSent,
			BytesRecv: iface.BytesRecv,
		})
	}

	// Sources that only ship machine-wide counters get a synthetic total
	// interface so the counters survive for delta computation.
	if len(net.Interfaces) == 0 && (raw.BytesSent != nil || raw.BytesRecv != nil) {
		total := models.NetworkInterface{Name: "total"}
		if raw.BytesSent != nil {
			total.BytesSent = *raw.BytesSent
		}
		if raw.BytesRecv != nil {
			total.BytesRecv = *raw.BytesRecv
		}
		net.Interfaces = append(net.Interfaces, total)
	}

	snap.Network = net
	return nil
}

func convertContainers(data json.RawMessage, snap *models.MetricSnapshot) error {
	var containers []models.ContainerMetric
	if err := json.Unmarshal(data, &containers); err != nil {
		return err
	}
	snap.Containers = containers
	return nil
}

func convertHealthChecks(data json.RawMessage, snap *models.MetricSnapshot) error {
	var checks []models.ServiceCheck
	if err := json.Unmarshal(data, &checks); err != nil {
		return err
	}
	for i := range checks {
		switch checks[i].Status {
		case models.CheckHealthy, models.CheckUnhealthy, models.CheckUnknown:
		default:
			checks[i].Status = models.CheckUnknown
		}
	}
	snap.Services = checks
	return nil
}

func convertCluster(data json.RawMessage, snap *models.MetricSnapshot) error {
	var cluster models.ClusterMetrics
	if err := json.Unmarshal(data, &cluster); err != nil {
		return err
	}
	snap.Cluster = &cluster
	return nil
}
