package models

import "fmt"

// Stats holds the monotonic counters tracked per tagged scope (one per
// source, one per job). Tm is wall-clock seconds, computed at read
// time by the stats actor; it is a timestamp, not a sum.
type Stats struct {
	Tm        uint64 `toml:"tm" json:"tm"`
	Pkts      uint32 `toml:"pkts" json:"pkts"`
	Reconnect uint32 `toml:"reconnect" json:"reconnect"`
	Bytes     uint64 `toml:"bytes" json:"bytes"`
	Hits      uint32 `toml:"hits" json:"hits"`
	Miss      uint32 `toml:"miss" json:"miss"`
	Empty     uint32 `toml:"empty" json:"empty"`
	Err       uint32 `toml:"err" json:"err"`
}

// Add is coordinate-wise except for Tm which takes the right operand.
func (s Stats) Add(rhs Stats) Stats {
	return Stats{
		Tm:        rhs.Tm,
		Pkts:      s.Pkts + rhs.Pkts,
		Reconnect: s.Reconnect + rhs.Reconnect,
		Bytes:     s.Bytes + rhs.Bytes,
		Hits:      s.Hits + rhs.Hits,
		Miss:      s.Miss + rhs.Miss,
		Empty:     s.Empty + rhs.Empty,
		Err:       s.Err + rhs.Err,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("time=%ds pkts=%d bytes=%d reconnect=%d hits=%d miss=%d empty=%d errors=%d",
		s.Tm, s.Pkts, s.Bytes, s.Reconnect, s.Hits, s.Miss, s.Empty, s.Err)
}
