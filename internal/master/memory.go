package master

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// processMemory reports this process's RSS via gopsutil, supplementing
// spec.md's INFO replication with an INFO memory section the way
// nishisan-dev-n-backup's agent reports host/process resource usage.
func processMemory() (rssBytes uint64, humanized string) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, "0B"
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0, "0B"
	}
	return info.RSS, humanizeBytes(info.RSS)
}

func humanizeBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), units[exp])
}
