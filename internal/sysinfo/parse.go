package sysinfo

import (
	"bufio"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var errBadStat = errors.New("bad /proc/stat")

// CPUTimes is the aggregate line of /proc/stat reduced to idle and total ticks
type CPUTimes struct {
	Idle  uint64
	Total uint64
}

// ParseCPUStat reads the first "cpu" line. Idle includes iowait; busy time is
// user, nice, system, irq, softirq and steal. Guest time is already counted in
// user and is ignored.
func ParseCPUStat(data string) (CPUTimes, error) {
	line, _, _ := strings.Cut(data, "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return CPUTimes{}, errBadStat
	}

	var vals []uint64
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return CPUTimes{}, errBadStat
		}
		vals = append(vals, v)
	}

	var t CPUTimes
	for i, v := range vals {
		switch i {
		case 3, 4: // idle, iowait
			t.Idle += v
		case 0, 1, 2, 5, 6, 7: // user, nice, system, irq, softirq, steal
			t.Total += v
		}
	}
	t.Total += t.Idle
	return t, nil
}

// CPUPercent is the busy share between two samples, clamped to [0, 100].
// Counters that did not move (tickless idle) read as 0.
func CPUPercent(before, after CPUTimes) float64 {
	if after.Total <= before.Total {
		return 0
	}
	dTotal := float64(after.Total - before.Total)
	dIdle := float64(after.Idle) - float64(before.Idle)
	return clampPercent(round1(100 * (1 - dIdle/dTotal)))
}

// LoadPercent estimates CPU usage from the 1 minute load average
func LoadPercent(loadavg string, cores int) (float64, bool) {
	fields := strings.Fields(loadavg)
	if len(fields) == 0 || cores <= 0 {
		return 0, false
	}
	la, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return clampPercent(round1(la / float64(cores) * 100)), true
}

// ParseMeminfo returns MemTotal and MemAvailable in kB
func ParseMeminfo(data string) (total, available int64, ok bool) {
	var haveTotal bool
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, haveTotal = v, true
		case "MemAvailable:":
			available = v
		}
	}
	return total, available, haveTotal
}

// ParseThermal reads a thermal zone value. Zones report millidegrees; short
// values are taken as degrees.
func ParseThermal(data string) (float64, bool) {
	s := strings.TrimSpace(data)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	if len(s) > 3 {
		v /= 1000
	}
	return v, true
}

// ParseUptime returns whole seconds from /proc/uptime
func ParseUptime(data string) (int64, bool) {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return int64(v), true
}

// CountProcessors counts "processor" entries of /proc/cpuinfo
func CountProcessors(cpuinfo string) int {
	n := 0
	sc := bufio.NewScanner(strings.NewReader(cpuinfo))
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "processor") {
			n++
		}
	}
	return n
}

var (
	routeSrcRe = regexp.MustCompile(`src (\d+\.\d+\.\d+\.\d+)`)
	pingRTTRe  = regexp.MustCompile(`time=([0-9.]+)\s*ms`)
)

// ParseRouteSrc extracts the source address of "ip route get"
func ParseRouteSrc(out string) (string, bool) {
	m := routeSrcRe.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParsePingRTT extracts the round trip of a single ping reply in ms
func ParsePingRTT(out string) (float64, bool) {
	m := pingRTTRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
