//go:build linux

// Package sysmetrics implements the monitor.MetricSource contract against
// the local host. Application-level metrics (response time, throughput,
// error rate, DB connections) are not knowable from the host; the source
// reports them unavailable and the collector applies its fallback.
package sysmetrics

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jpayne/fleetwatch/pkg/monitor"
)

// cpuSampleGap separates the two /proc/stat reads used to derive current
// CPU load; a single read only gives the average since boot.
const cpuSampleGap = 200 * time.Millisecond

type HostSource struct{}

func NewHostSource() *HostSource {
	return &HostSource{}
}

func (s *HostSource) ReadMetric(ctx context.Context, name string) (float64, error) {
	switch name {
	case monitor.MetricCPUUsage:
		return s.readCPU(ctx)
	case monitor.MetricMemoryUsage:
		return s.readMemory()
	case monitor.MetricUptimeSeconds:
		return s.readUptime()
	case monitor.MetricActiveConnections:
		return s.readActiveConnections()
	case monitor.MetricResponseTimeMs, monitor.MetricThroughputPerMin,
		monitor.MetricDBConnections, monitor.MetricErrorRatePct:
		return 0, fmt.Errorf("%w: %s", monitor.ErrMetricUnavailable, name)
	default:
		return 0, fmt.Errorf("%w: %s", monitor.ErrUnknownMetric, name)
	}
}

type cpuStat struct{ idle, total uint64 }

func readCPUStat() (cpuStat, error) {
	file, err := os.Open("/proc/stat")
	if err != nil {
		return cpuStat{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return cpuStat{}, scanner.Err()
	}

	line := scanner.Text()
	parts := strings.Fields(line)
	if len(parts) < 5 || parts[0] != "cpu" {
		return cpuStat{}, fmt.Errorf("unexpected /proc/stat format: %q", line)
	}

	var stat cpuStat
	for i, field := range parts[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return cpuStat{}, fmt.Errorf("parse /proc/stat field %d: %w", i+1, err)
		}
		stat.total += v
		if i == 3 { // idle
			stat.idle = v
		}
	}
	return stat, nil
}

func (s *HostSource) readCPU(ctx context.Context) (float64, error) {
	s1, err := readCPUStat()
	if err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(cpuSampleGap):
	}

	s2, err := readCPUStat()
	if err != nil {
		return 0, err
	}

	deltaIdle := s2.idle - s1.idle
	deltaTotal := s2.total - s1.total
	if deltaTotal == 0 {
		return 0, nil
	}
	return float64(deltaTotal-deltaIdle) / float64(deltaTotal) * 100, nil
}

func (s *HostSource) readMemory() (float64, error) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}
		value, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		switch parts[0] {
		case "MemTotal:":
			memTotal = value
		case "MemAvailable:":
			memAvailable = value
		}
	}
	if memTotal == 0 {
		if err := scanner.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
	}

	used := memTotal - memAvailable
	return float64(used) / float64(memTotal) * 100, nil
}

func (s *HostSource) readUptime() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return float64(info.Uptime), nil
}

// readActiveConnections counts established TCP connections from
// /proc/net/tcp and /proc/net/tcp6 (state field 01).
func (s *HostSource) readActiveConnections() (float64, error) {
	var total int
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		n, err := countEstablished(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += n
	}
	return float64(total), nil
}

func countEstablished(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var count int
	scanner := bufio.NewScanner(file)
	scanner.Scan() // header
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 4 {
			continue
		}
		if parts[3] == "01" {
			count++
		}
	}
	return count, scanner.Err()
}
