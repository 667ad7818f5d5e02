package core

import "fmt"

// Binary byte units.
const (
	BytesPerKB int64 = 1 << 10
	BytesPerMB int64 = 1 << 20
	BytesPerGB int64 = 1 << 30
	BytesPerTB int64 = 1 << 40
)

var byteUnits = []struct {
	size int64
	name string
}{
	{BytesPerTB, "TB"},
	{BytesPerGB, "GB"},
	{BytesPerMB, "MB"},
	{BytesPerKB, "KB"},
}

// FormatBytes renders a byte count with two decimals in the largest unit
// that fits: 1536 -> "1.50 KB". Negative counts render as "0 B".
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	for _, u := range byteUnits {
		if n >= u.size {
			return fmt.Sprintf("%.2f %s", float64(n)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d B", n)
}
