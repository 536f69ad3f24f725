package pipeline

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostSampler reads CPU and memory pressure from the host via gopsutil.
type HostSampler struct {
	// Interval over which CPU usage is averaged. Defaults to 100ms.
	Interval time.Duration
}

// Sample reports current CPU and memory utilisation in percent.
func (s HostSampler) Sample() (Load, error) {
	iv := s.Interval
	if iv <= 0 {
		iv = 100 * time.Millisecond
	}
	pcts, err := cpu.Percent(iv, false)
	if err != nil {
		return Load{}, err
	}
	var cpuPct float64
	if len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Load{}, err
	}
	return Load{CPU: cpuPct, Mem: vm.UsedPercent}, nil
}
