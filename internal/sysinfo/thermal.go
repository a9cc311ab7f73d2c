package sysinfo

// ThermalPolicy steps the thread count down when the device heats up and
// restores the configured count once it cools.
type ThermalPolicy struct {
	HighC       float64
	MidC        float64
	LowC        float64
	HighThreads int
	MidThreads  int
	BaseThreads int
}

// Adjust returns the thread count for the given temperature. changed is false
// when threads should stay as they are.
func (p ThermalPolicy) Adjust(tempC float64, threads int) (next int, changed bool) {
	switch {
	case tempC >= p.HighC && threads > p.HighThreads:
		return p.HighThreads, true
	case tempC >= p.MidC && threads > p.MidThreads:
		return p.MidThreads, true
	case tempC <= p.LowC && threads < p.BaseThreads:
		return p.BaseThreads, true
	}
	return threads, false
}
