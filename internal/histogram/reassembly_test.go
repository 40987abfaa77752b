package histogram

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tes-daq/tesfcd/internal/frame"
)

// mcaFrame builds a raw MCA frame. lastBin/declaredSize only matter on
// header frames (protoSeq == 0); nbins bin values of 4 bytes each
// follow the header (or, for a continuation, start immediately).
func mcaFrame(protoSeq uint16, lastBin uint16, declaredSize uint16, nbins int) []byte {
	header := protoSeq == 0
	bodyLen := nbins * frame.BinLen
	if header {
		bodyLen += frame.MCAHeaderLen
	}
	raw := make([]byte, frame.HeaderLen+bodyLen)
	binary.BigEndian.PutUint16(raw[12:14], uint16(0x88B6)) // EtherTypeMCA
	binary.LittleEndian.PutUint16(raw[14:16], uint16(len(raw)))
	binary.LittleEndian.PutUint16(raw[16:18], protoSeq) // frame_seq, unused by Reassembly
	binary.LittleEndian.PutUint16(raw[18:20], protoSeq)

	if header {
		body := raw[frame.HeaderLen:]
		binary.LittleEndian.PutUint16(body[2:4], lastBin)
		binary.LittleEndian.PutUint16(body[0:2], declaredSize)
	}
	for i := 0; i < nbins; i++ {
		off := frame.HeaderLen + i*frame.BinLen
		if header {
			off += frame.MCAHeaderLen
		}
		binary.LittleEndian.PutUint32(raw[off:off+4], uint32(i+1))
	}
	return raw
}

func TestReassemblyPublishesOnCompletion(t *testing.T) {
	r := New()

	hdr := mcaFrame(0, 7, uint16(frame.MCAHeaderLen+8*frame.BinLen), 8)
	buf, err := r.Feed(frame.New(hdr), false, 0)
	require.NoError(t, err)
	require.NotNil(t, buf, "a single header with all 8 bins should already complete it")
	assert.Equal(t, frame.MCAHeaderLen+8*frame.BinLen, len(buf))

	// Redo with a split across two frames so completion happens on the
	// second.
	r2 := New()
	hdr2 := mcaFrame(0, 7, uint16(frame.MCAHeaderLen+8*frame.BinLen), 4)
	buf, err = r2.Feed(frame.New(hdr2), false, 0)
	require.NoError(t, err)
	assert.Nil(t, buf)

	cont := mcaFrame(1, 0, 0, 4)
	buf, err = r2.Feed(frame.New(cont), true, 0)
	require.NoError(t, err)
	require.NotNil(t, buf)
	assert.Equal(t, frame.MCAHeaderLen+8*frame.BinLen, len(buf))

	published, dropped := r2.Stats()
	assert.EqualValues(t, 1, published)
	assert.EqualValues(t, 0, dropped)
}

func TestReassemblyAbortsOnNonContiguousSeq(t *testing.T) {
	r := New()

	hdr := mcaFrame(0, 7, uint16(frame.MCAHeaderLen+8*frame.BinLen), 4)
	_, err := r.Feed(frame.New(hdr), false, 0)
	require.NoError(t, err)

	// proto_seq jumps from 0 to 2, skipping 1.
	skip := mcaFrame(2, 0, 0, 4)
	buf, err := r.Feed(frame.New(skip), true, 0)
	assert.Error(t, err)
	assert.Nil(t, buf)

	_, dropped := r.Stats()
	assert.EqualValues(t, 1, dropped)

	// Subsequent continuation frames are dropped until the next header.
	more := mcaFrame(3, 0, 0, 4)
	buf, err = r.Feed(frame.New(more), true, 2)
	assert.NoError(t, err)
	assert.Nil(t, buf)
}

func TestReassemblyAbortsOnNewHeaderMidCollection(t *testing.T) {
	r := New()

	hdr := mcaFrame(0, 7, uint16(frame.MCAHeaderLen+8*frame.BinLen), 4)
	_, err := r.Feed(frame.New(hdr), false, 0)
	require.NoError(t, err)

	hdr2 := mcaFrame(0, 3, uint16(frame.MCAHeaderLen+4*frame.BinLen), 4)
	buf, err := r.Feed(frame.New(hdr2), true, 0)
	require.NoError(t, err)
	require.NotNil(t, buf, "4 bins declared, all 4 delivered by the new header alone")

	published, dropped := r.Stats()
	assert.EqualValues(t, 1, published)
	assert.EqualValues(t, 1, dropped, "the first, incomplete histogram must be counted as dropped")
}

func TestReassemblyIgnoresContinuationsWhileIdle(t *testing.T) {
	r := New()

	cont := mcaFrame(1, 0, 0, 4)
	buf, err := r.Feed(frame.New(cont), false, 0)
	assert.NoError(t, err)
	assert.Nil(t, buf)

	published, dropped := r.Stats()
	assert.EqualValues(t, 0, published)
	assert.EqualValues(t, 0, dropped)
}
