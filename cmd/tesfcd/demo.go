package main

import (
	"context"
	"encoding/binary"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/tes-daq/tesfcd/internal/frame"
	"github.com/tes-daq/tesfcd/internal/nic/simnic"
)

// runDemoFeed synthesizes a small, plausible telemetry stream onto
// rings so the "demo" driver is runnable without specialized hardware.
// It round-robins a single global frame_seq counter across rings the
// way the real NIC scatters one incrementing counter across multiple
// receive queues, and cycles through tick, peak, and a two-frame MCA
// histogram (4 bins in the header, 4 in the continuation) so both
// built-in tasks see real work.
func runDemoFeed(ctx context.Context, rings []*simnic.Ring, handle *simnic.Handle, log *zap.Logger) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	const histBins = 8
	var fseq uint16
	var step int

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ring := rings[int(fseq)%len(rings)]
			switch step % 4 {
			case 0:
				ring.Produce(demoTickFrame(fseq))
			case 1:
				ring.Produce(demoPeakFrame(fseq))
			case 2:
				ring.Produce(demoMCAHeaderFrame(fseq, histBins))
			case 3:
				ring.Produce(demoMCAContinuationFrame(fseq, histBins))
			}
			fseq++
			step++
			handle.Kick()
		}
	}
}

func demoRawFrame(etherType uint16, bodyLen int, fseq, protoSeq, evtSize, evtType uint16) []byte {
	raw := make([]byte, frame.HeaderLen+bodyLen)
	binary.BigEndian.PutUint16(raw[12:14], etherType)
	binary.LittleEndian.PutUint16(raw[14:16], uint16(len(raw)))
	binary.LittleEndian.PutUint16(raw[16:18], fseq)
	binary.LittleEndian.PutUint16(raw[18:20], protoSeq)
	binary.LittleEndian.PutUint16(raw[20:22], evtSize)
	binary.LittleEndian.PutUint16(raw[22:24], evtType)
	return raw
}

func demoTickFrame(fseq uint16) []byte {
	raw := demoRawFrame(uint16(frame.EtherTypeEvent), frame.TickHeaderLen, fseq, 0, 3, frame.EvtTick)
	body := raw[frame.HeaderLen:]
	binary.LittleEndian.PutUint32(body[0:4], 1_000_000) // period_ns, a placeholder cadence
	return raw
}

func demoPeakFrame(fseq uint16) []byte {
	raw := demoRawFrame(uint16(frame.EtherTypeEvent), frame.PeakHeaderLen, fseq, 0, 1, frame.EvtPeak)
	body := raw[frame.HeaderLen:]
	binary.LittleEndian.PutUint16(body[0:2], uint16(200+rand.Intn(800))) // height
	binary.LittleEndian.PutUint16(body[2:4], uint16(10+rand.Intn(50)))   // rise time
	return raw
}

// demoMCAHeaderFrame builds the first of a two-frame histogram of
// totalBins bins, declaring the bins split evenly across both frames.
func demoMCAHeaderFrame(fseq uint16, totalBins int) []byte {
	bins := totalBins / 2
	bodyLen := frame.MCAHeaderLen + bins*frame.BinLen
	raw := demoRawFrame(uint16(frame.EtherTypeMCA), bodyLen, fseq, 0, 0, 0)
	body := raw[frame.HeaderLen:]
	binary.LittleEndian.PutUint16(body[0:2], uint16(frame.MCAHeaderLen+totalBins*frame.BinLen)) // mca_size
	binary.LittleEndian.PutUint16(body[2:4], uint16(totalBins-1))                               // last_bin
	for i := 0; i < bins; i++ {
		off := frame.MCAHeaderLen + i*frame.BinLen
		binary.LittleEndian.PutUint32(body[off:off+4], uint32(rand.Intn(1000)))
	}
	return raw
}

// demoMCAContinuationFrame builds the second frame of the histogram
// started by demoMCAHeaderFrame, carrying the remaining bins.
func demoMCAContinuationFrame(fseq uint16, totalBins int) []byte {
	bins := totalBins - totalBins/2
	bodyLen := bins * frame.BinLen
	raw := demoRawFrame(uint16(frame.EtherTypeMCA), bodyLen, fseq, 1, 0, 0)
	body := raw[frame.HeaderLen:]
	for i := 0; i < bins; i++ {
		off := i * frame.BinLen
		binary.LittleEndian.PutUint32(body[off:off+4], uint32(rand.Intn(1000)))
	}
	return raw
}
