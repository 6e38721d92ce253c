package tuner

import (
	"fmt"
	"runtime"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

// SystemResources is what Detect found on the host.
type SystemResources struct {
	// CPUCores is the number of logical CPUs.
	CPUCores int

	// TotalRAM is physical memory in bytes, lowered to the cgroup limit when
	// running inside a memory-limited container.
	TotalRAM int64

	// AvailableRAM is memory the kernel reports as available.
	AvailableRAM int64

	// CgroupLimited is set when TotalRAM came from a cgroup limit.
	CgroupLimited bool
}

// Probe abstracts the host queries so Detect can be tested.
type Probe struct {
	CPUs        func() (int, error)
	Memory      func() (total, available uint64, err error)
	CgroupLimit func() (uint64, error)
}

// DefaultProbe queries the host through gopsutil and the cgroup hierarchy.
func DefaultProbe() Probe {
	return Probe{
		CPUs: func() (int, error) { return cpu.Counts(true) },
		Memory: func() (uint64, uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, 0, err
			}
			return vm.Total, vm.Available, nil
		},
		CgroupLimit: memlimit.FromCgroup,
	}
}

// Detect reads host resources with DefaultProbe.
func Detect() (SystemResources, error) {
	return DefaultProbe().Detect()
}

// Detect reads host resources. A failing CPU query falls back to
// runtime.NumCPU; a failing memory query is an error.
func (p Probe) Detect() (SystemResources, error) {
	res := SystemResources{CPUCores: runtime.NumCPU()}
	if p.CPUs != nil {
		if n, err := p.CPUs(); err == nil && n > 0 {
			res.CPUCores = n
		}
	}

	total, avail, err := p.Memory()
	if err != nil {
		return res, fmt.Errorf("reading host memory: %w", err)
	}
	res.TotalRAM = int64(total)
	res.AvailableRAM = int64(avail)

	if p.CgroupLimit != nil {
		if limit, err := p.CgroupLimit(); err == nil && limit > 0 && int64(limit) < res.TotalRAM {
			res.TotalRAM = int64(limit)
			res.CgroupLimited = true
		}
	}
	if res.AvailableRAM > res.TotalRAM {
		res.AvailableRAM = res.TotalRAM
	}
	return res, nil
}

// workerDivisor: the default worker count is cores / 2.5, leaving headroom
// for the engine's own threads.
const (
	workerDivNum = 2
	workerDivDen = 5
)

// DefaultWorkers returns max(1, floor(cores / 2.5)).
func DefaultWorkers(cores int) int {
	return max(1, cores*workerDivNum/workerDivDen)
}

// DefaultMemory is the container memory limit used when none is given:
// two thirds of TotalRAM, rounded down to whole MiB.
func DefaultMemory(res SystemResources) int64 {
	m := res.TotalRAM * 2 / 3
	return m - m%types.MiB
}
