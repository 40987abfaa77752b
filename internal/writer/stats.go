package writer

import "encoding/binary"

// statsHeaderLen is the 40-byte reserved header spec.md §4.F places at
// the start of every output file, written last.
const statsHeaderLen = 40

// Stats accumulates the counters spec.md §4.F's stats header holds:
// ticks, bytes of frame data written, frames, frames lost, and I/O
// errors encountered.
type Stats struct {
	Ticks      uint64
	Size       uint64
	Frames     uint64
	FramesLost uint64
	Errors     uint64
}

func (s Stats) encode() [statsHeaderLen]byte {
	var buf [statsHeaderLen]byte
	binary.LittleEndian.PutUint64(buf[0:8], s.Ticks)
	binary.LittleEndian.PutUint64(buf[8:16], s.Size)
	binary.LittleEndian.PutUint64(buf[16:24], s.Frames)
	binary.LittleEndian.PutUint64(buf[24:32], s.FramesLost)
	binary.LittleEndian.PutUint64(buf[32:40], s.Errors)
	return buf
}

func decodeStats(buf [statsHeaderLen]byte) Stats {
	return Stats{
		Ticks:      binary.LittleEndian.Uint64(buf[0:8]),
		Size:       binary.LittleEndian.Uint64(buf[8:16]),
		Frames:     binary.LittleEndian.Uint64(buf[16:24]),
		FramesLost: binary.LittleEndian.Uint64(buf[24:32]),
		Errors:     binary.LittleEndian.Uint64(buf[32:40]),
	}
}
