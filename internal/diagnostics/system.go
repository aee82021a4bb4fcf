// Package diagnostics backs the doctor command: environment checks plus a
// best-effort snapshot of host resources.
package diagnostics

import (
	"runtime"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// GPUInfo describes one detected GPU.
type GPUInfo struct {
	Vendor string `json:"vendor"`
	Name   string `json:"name"`
}

// SystemMetrics is a point-in-time snapshot of host resources. Fields a
// probe could not fill stay zero; collection never fails as a whole.
type SystemMetrics struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`

	CPUModel   string  `json:"cpu_model,omitempty"`
	CPUCores   int     `json:"cpu_cores"`
	CPUPercent float64 `json:"cpu_percent"`

	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskFreeGB  float64 `json:"disk_free_gb"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1 float64 `json:"load_avg_1,omitempty"`

	GPUs []GPUInfo `json:"gpus,omitempty"`
}

// CollectSystemMetrics gathers host statistics, best-effort per probe.
func CollectSystemMetrics(dataDir string) SystemMetrics {
	m := SystemMetrics{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		m.CPUModel = infos[0].ModelName
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemTotalMB = float64(vm.Total) / 1024 / 1024
		m.MemUsedMB = float64(vm.Used) / 1024 / 1024
		m.MemPercent = vm.UsedPercent
	}

	if dataDir == "" {
		dataDir = "."
	}
	if du, err := disk.Usage(dataDir); err == nil {
		m.DiskTotalGB = float64(du.Total) / 1024 / 1024 / 1024
		m.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
		m.DiskPercent = du.UsedPercent
	}

	if avg, err := load.Avg(); err == nil {
		m.LoadAvg1 = avg.Load1
	}

	if info, err := ghw.GPU(); err == nil {
		for _, card := range info.GraphicsCards {
			gpu := GPUInfo{Name: card.Address}
			if card.DeviceInfo != nil {
				if card.DeviceInfo.Vendor != nil {
					gpu.Vendor = card.DeviceInfo.Vendor.Name
				}
				if card.DeviceInfo.Product != nil {
					gpu.Name = card.DeviceInfo.Product.Name
				}
			}
			m.GPUs = append(m.GPUs, gpu)
		}
	}

	return m
}
