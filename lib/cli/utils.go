package cli

import "fmt"

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// humanizeBytes formats a size with binary units, e.g. "1.50 KiB".
func humanizeBytes(bytesize int64) string {
	if bytesize < 0 {
		return "-" + humanizeBytes(-bytesize)
	}
	if bytesize < 1024 {
		return fmt.Sprintf("%d B", bytesize)
	}

	amount := float64(bytesize)
	unit := 0
	for amount >= 1024 && unit < len(byteUnits)-1 {
		amount /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", amount, byteUnits[unit])
}
