package engine

import "github.com/aroudaki/app-builder-sub001/pkg/sandbox"

// computeStats derives percentages from a raw engine sample.
func computeStats(raw *RawStats) *sandbox.SandboxStats {
	out := &sandbox.SandboxStats{
		MemoryUsage: raw.MemUsage,
		MemoryLimit: raw.MemLimit,
		ReadAt:      raw.Read,
	}

	cpuDelta := float64(raw.CPUTotal) - float64(raw.PreCPUTotal)
	systemDelta := float64(raw.System) - float64(raw.PreSystem)
	if cpuDelta > 0 && systemDelta > 0 {
		cpus := float64(raw.OnlineCPUs)
		if cpus == 0 {
			cpus = float64(raw.PerCPUCount)
		}
		if cpus == 0 {
			cpus = 1
		}
		out.CPUPercent = cpuDelta / systemDelta * cpus * 100
	}

	if raw.MemLimit > 0 {
		out.MemoryPercent = float64(raw.MemUsage) / float64(raw.MemLimit) * 100
	}

	for _, n := range raw.Networks {
		out.NetworkRx += n.RxBytes
		out.NetworkTx += n.TxBytes
	}
	return out
}
