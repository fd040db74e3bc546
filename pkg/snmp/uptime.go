package snmp

import "time"

// Uptime returns the time elapsed since start in hundredths of a second,
// the TimeTicks unit of sysUpTime.
func Uptime(start time.Time) uint32 {
	d := time.Since(start)
	if d < 0 {
		return 0
	}
	return uint32(d / (10 * time.Millisecond))
}
