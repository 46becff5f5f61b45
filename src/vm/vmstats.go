package vm

import "stats"

// Vmstats_t counts VM events across all processes.
type Vmstats_t struct {
	Faults     stats.Counter_t
	Faultfails stats.Counter_t
	Lazyinits  stats.Counter_t
	Swapins    stats.Counter_t
	Swapouts   stats.Counter_t
	Evictions  stats.Counter_t
	Writebacks stats.Counter_t
	Mmaps      stats.Counter_t
	Munmaps    stats.Counter_t
	Stackgrows stats.Counter_t
}

// Vmstats is the global event counter instance.
var Vmstats = &Vmstats_t{}

// Stats_str returns a printable dump of the counters.
func Stats_str() string {
	return stats.Stats2String(*Vmstats)
}
