// Package writer implements the write-to-file task of spec.md §4.F: a
// request/reply service that saves incoming frames verbatim to a file
// under a fixed root, up to a client-specified tick count.
package writer

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Mode selects how an existing target file is treated.
type Mode uint8

const (
	ModeCreateExclusive Mode = 0
	ModeCreateOrOverwrite Mode = 1
)

// Status is the one-byte result code of a Reply.
type Status uint8

const (
	StatusFail Status = 0
	StatusOK   Status = 1
)

const maxFilenameLen = 4096

// Request is the client->task tuple: (filename, min_ticks, mode).
// min_ticks == 0 means "status query" rather than a write job.
type Request struct {
	Filename string
	MinTicks uint64
	Mode     Mode
}

// Reply is the task->client tuple sent once a request is resolved
// (immediately for a status query or a rejected request, or once a
// write job completes).
type Reply struct {
	Status     Status
	Ticks      uint64
	Size       uint64
	Frames     uint64
	FramesLost uint64
}

// Fail is the canned reply for any rejected request.
var Fail = Reply{Status: StatusFail}

// WriteRequest encodes r as a length-prefixed filename followed by the
// fixed-width min_ticks/mode fields, in little-endian host order.
func WriteRequest(w io.Writer, r Request) error {
	if len(r.Filename) > maxFilenameLen {
		return fmt.Errorf("writer: filename too long (%d bytes)", len(r.Filename))
	}
	buf := make([]byte, 2+len(r.Filename)+8+1)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(r.Filename)))
	copy(buf[2:], r.Filename)
	off := 2 + len(r.Filename)
	binary.LittleEndian.PutUint64(buf[off:off+8], r.MinTicks)
	buf[off+8] = byte(r.Mode)
	_, err := w.Write(buf)
	return err
}

// ReadRequest decodes a Request previously written by WriteRequest.
func ReadRequest(r io.Reader) (Request, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Request{}, err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	if n > maxFilenameLen {
		return Request{}, fmt.Errorf("writer: declared filename length %d exceeds limit", n)
	}
	rest := make([]byte, int(n)+8+1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Request{}, err
	}
	filename := string(rest[:n])
	minTicks := binary.LittleEndian.Uint64(rest[n : n+8])
	mode := Mode(rest[n+8])
	return Request{Filename: filename, MinTicks: minTicks, Mode: mode}, nil
}

// WriteReply encodes the fixed-width status/ticks/size/frames/lost
// tuple.
func WriteReply(w io.Writer, r Reply) error {
	var buf [1 + 8*4]byte
	buf[0] = byte(r.Status)
	binary.LittleEndian.PutUint64(buf[1:9], r.Ticks)
	binary.LittleEndian.PutUint64(buf[9:17], r.Size)
	binary.LittleEndian.PutUint64(buf[17:25], r.Frames)
	binary.LittleEndian.PutUint64(buf[25:33], r.FramesLost)
	_, err := w.Write(buf[:])
	return err
}

// ReadReply decodes a Reply previously written by WriteReply.
func ReadReply(r io.Reader) (Reply, error) {
	var buf [1 + 8*4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Reply{}, err
	}
	return Reply{
		Status:     Status(buf[0]),
		Ticks:      binary.LittleEndian.Uint64(buf[1:9]),
		Size:       binary.LittleEndian.Uint64(buf[9:17]),
		Frames:     binary.LittleEndian.Uint64(buf[17:25]),
		FramesLost: binary.LittleEndian.Uint64(buf[25:33]),
	}, nil
}
