// Package frame provides typed, allocation-free accessors over raw FPGA
// telemetry frames as received off the wire. All operations are pure
// over an immutable byte slice; nothing here touches rings or sockets.
//
// A full bitfield codec (flag sub-register decomposition, pretty
// printing) belongs in a separate support module; this package exposes
// only what the capture core needs: classification, lengths, sequence
// numbers, and the handful of typed fields the two built-in tasks read.
//
// Multi-byte fields following the 14-byte link-layer header are read in
// the producer's native order (little-endian) without any byte
// swapping, matching the legacy codec this was distilled from, which
// never applies ntohs/ntohl to payload fields. The link-layer EtherType
// is the one exception: it is parsed with gopacket, which always reads
// it in network (big-endian) order, so the EtherType constants below
// are chosen to match that convention (see DESIGN.md).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Layout constants, ported from the legacy fpga_pkt layout.
const (
	LinkHeaderLen = 14 // dst(6) + src(6) + ethertype(2)
	LenFieldLen   = 2  // declared frame length
	FPGAHeaderLen = 8  // frame_seq, proto_seq, evt_size, evt_type

	// HeaderLen is the offset of the frame body: link header + declared
	// length + FPGA header.
	HeaderLen = LinkHeaderLen + LenFieldLen + FPGAHeaderLen // 24

	// MaxFrameLen is the largest frame the wire format permits.
	MaxFrameLen = 1496

	MCAHeaderLen      = 40
	TickHeaderLen     = 24
	PeakHeaderLen     = 8
	PeakLen           = 8
	PulseLen          = 8
	PulseHeaderLen    = 8 + PulseLen
	AreaHeaderLen     = 8
	TraceHeaderLen    = 8
	TraceFullHeaderLen = TraceHeaderLen + PulseLen
	BinLen            = 4
)

// EtherType selectors for the two frame families (big-endian, see the
// package doc comment).
const (
	EtherTypeEvent layers.EthernetType = 0x88B5
	EtherTypeMCA   layers.EthernetType = 0x88B6
)

// Event-type sub-field selectors (little-endian, stored raw in the
// FPGA header's evt_type field).
const (
	EvtTick    uint16 = 0x0002
	EvtPeak    uint16 = 0x0000
	EvtPulse   uint16 = 0x0004
	EvtArea    uint16 = 0x0008
	EvtTraceSgl uint16 = 0x000c
	EvtTraceAvg uint16 = 0x010c
	EvtTraceDP  uint16 = 0x020c
	EvtTraceDPTR uint16 = 0x030c

	evtTraceTypeMask uint16 = 0x000f
	evtTraceType     uint16 = 0x000c
)

// declared evt_size values the validator checks against the frame
// family, per spec.md §3's invariants.
const (
	evtSizeTick = 3
	evtSizeOne  = 1
)

// Frame wraps a raw, received byte slice. It never copies or mutates
// the underlying bytes.
type Frame struct {
	raw []byte
}

// New wraps raw frame bytes. The caller retains ownership; the Frame
// must not be used past the lifetime of a single dispatch callback
// (see internal/dispatch).
func New(raw []byte) Frame {
	return Frame{raw: raw}
}

// Bytes returns the raw frame bytes, including the link-layer header.
func (f Frame) Bytes() []byte { return f.raw }

// Body returns the bytes following the 24-byte combined header.
func (f Frame) Body() []byte {
	if len(f.raw) <= HeaderLen {
		return nil
	}
	return f.raw[HeaderLen:]
}

// ethernet decodes the 14-byte link-layer header. Frames shorter than
// 60 bytes are zero-padded first, matching gopacket's Ethernet decoder
// expectations (it refuses to decode short frames otherwise).
func (f Frame) ethernet() (*layers.Ethernet, error) {
	data := f.raw
	if len(data) < 60 {
		padded := make([]byte, 60)
		copy(padded, data)
		data = padded
	}
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, fmt.Errorf("frame: no ethernet layer")
	}
	return eth, nil
}

func (f Frame) etherType() layers.EthernetType {
	eth, err := f.ethernet()
	if err != nil {
		return 0
	}
	return eth.EthernetType
}

// IsMCA reports whether the frame belongs to the MCA (histogram bin
// stream) family.
func (f Frame) IsMCA() bool { return f.etherType() == EtherTypeMCA }

// IsEvent reports whether the frame belongs to the Event (measurement)
// family.
func (f Frame) IsEvent() bool { return f.etherType() == EtherTypeEvent }

// IsHeader reports whether this frame is the first frame of its
// sub-protocol stream (proto_seq == 0).
func (f Frame) IsHeader() bool { return f.ProtoSeq() == 0 }

func (f Frame) evtType() uint16 {
	if len(f.raw) < HeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint16(f.raw[22:24])
}

// IsTick, IsPeak, IsArea, IsPulse, IsTrace and the trace sub-variant
// classifiers match the link-layer type and, for events, the event-type
// field.
func (f Frame) IsTick() bool  { return f.IsEvent() && f.evtType() == EvtTick }
func (f Frame) IsPeak() bool  { return f.IsEvent() && f.evtType() == EvtPeak }
func (f Frame) IsArea() bool  { return f.IsEvent() && f.evtType() == EvtArea }
func (f Frame) IsPulse() bool { return f.IsEvent() && f.evtType() == EvtPulse }
func (f Frame) IsTrace() bool {
	return f.IsEvent() && (f.evtType()&evtTraceTypeMask) == evtTraceType
}
func (f Frame) IsTraceSingle() bool         { return f.IsEvent() && f.evtType() == EvtTraceSgl }
func (f Frame) IsTraceAverage() bool        { return f.IsEvent() && f.evtType() == EvtTraceAvg }
func (f Frame) IsTraceDotProduct() bool     { return f.IsEvent() && f.evtType() == EvtTraceDP }
func (f Frame) IsTraceDotProductTrace() bool { return f.IsEvent() && f.evtType() == EvtTraceDPTR }

// DeclaredLen returns the declared frame length field (bytes 14-15).
func (f Frame) DeclaredLen() uint16 {
	if len(f.raw) < LinkHeaderLen+LenFieldLen {
		return 0
	}
	return binary.LittleEndian.Uint16(f.raw[LinkHeaderLen : LinkHeaderLen+LenFieldLen])
}

// FrameSeq returns the 16-bit frame sequence number.
func (f Frame) FrameSeq() uint16 {
	if len(f.raw) < HeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint16(f.raw[16:18])
}

// ProtoSeq returns the 16-bit sub-protocol sequence number.
func (f Frame) ProtoSeq() uint16 {
	if len(f.raw) < HeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint16(f.raw[18:20])
}

// EvtSize returns the declared evt_size field (undefined for MCA
// frames).
func (f Frame) EvtSize() uint16 {
	if len(f.raw) < HeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint16(f.raw[20:22])
}

// --- MCA histogram accessors -----------------------------------------------

func (f Frame) MCASize() uint16 {
	return le16(f.Body(), 0)
}

func (f Frame) MCALastBin() uint16 {
	return le16(f.Body(), 2)
}

func (f Frame) MCALowestValue() uint32 {
	return le32(f.Body(), 4)
}

func (f Frame) MCAMostFrequent() uint16 {
	return le16(f.Body(), 10)
}

func (f Frame) MCAFlags() uint32 {
	return le32(f.Body(), 12)
}

func (f Frame) MCATotal() uint64 {
	return le64(f.Body(), 16)
}

func (f Frame) MCAStartTime() uint64 {
	return le64(f.Body(), 24)
}

func (f Frame) MCAStopTime() uint64 {
	return le64(f.Body(), 32)
}

// MCABin returns the value of bin n. On a header frame, bins follow the
// 40-byte MCA header; on a continuation frame, bins start at byte 0.
func (f Frame) MCABin(n uint16) uint32 {
	off := int(n) * BinLen
	if f.IsHeader() {
		off += MCAHeaderLen
	}
	return le32(f.Body(), off)
}

// --- generic event accessors -------------------------------------------------

// EventFlags and EventTOffset read the flags/time-offset fields common
// to every event body layout (evt_header in the legacy codec).
func (f Frame) EventFlags() uint16   { return le16(f.Body(), 4) }
func (f Frame) EventTOffset() uint16 { return le16(f.Body(), 6) }

// --- tick accessors -----------------------------------------------------------

func (f Frame) TickPeriod() uint32    { return le32(f.Body(), 0) }
func (f Frame) TickTimestamp() uint64 { return le64(f.Body(), 8) }
func (f Frame) TickOverflow() uint8   { return byteAt(f.Body(), 16) }
func (f Frame) TickErr() uint8        { return byteAt(f.Body(), 17) }
func (f Frame) TickCFD() uint8        { return byteAt(f.Body(), 18) }
func (f Frame) TickLost() uint32      { return le32(f.Body(), 20) }

// --- peak accessors -------------------------------------------------------

func (f Frame) PeakHeight() uint16   { return le16(f.Body(), 0) }
func (f Frame) PeakRiseTime() uint16 { return le16(f.Body(), 2) }

// --- pulse accessors ------------------------------------------------------

// PulseSize is only meaningful on a header frame.
func (f Frame) PulseSize() uint16 { return le16(f.Body(), 0) }

func (f Frame) pulseFieldsOffset() int {
	if f.IsHeader() {
		return 8
	}
	return 0
}

func (f Frame) PulseArea() uint32    { return le32(f.Body(), f.pulseFieldsOffset()) }
func (f Frame) PulseLength() uint16  { return le16(f.Body(), f.pulseFieldsOffset()+4) }
func (f Frame) PulseTOffset() uint16 { return le16(f.Body(), f.pulseFieldsOffset()+6) }

// --- area accessors -------------------------------------------------------

func (f Frame) AreaValue() uint32 { return le32(f.Body(), 0) }

// --- trace accessors ------------------------------------------------------

// TraceSize and TraceFlags are only present on a header frame.
func (f Frame) TraceSize() uint16  { return le16(f.Body(), 0) }
func (f Frame) TraceFlags() uint16 { return le16(f.Body(), 2) }

func (f Frame) tracePulseOffset() int {
	if f.IsHeader() {
		return TraceHeaderLen
	}
	return 0
}

func (f Frame) TracePulseArea() uint32    { return le32(f.Body(), f.tracePulseOffset()) }
func (f Frame) TracePulseLength() uint16  { return le16(f.Body(), f.tracePulseOffset()+4) }
func (f Frame) TracePulseTOffset() uint16 { return le16(f.Body(), f.tracePulseOffset()+6) }

// --- helpers ---------------------------------------------------------------

func le16(b []byte, off int) uint16 {
	if off < 0 || off+2 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint16(b[off : off+2])
}

func le32(b []byte, off int) uint32 {
	if off < 0 || off+4 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off : off+4])
}

func le64(b []byte, off int) uint64 {
	if off < 0 || off+8 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[off : off+8])
}

func byteAt(b []byte, off int) uint8 {
	if off < 0 || off >= len(b) {
		return 0
	}
	return b[off]
}
