package audioenc

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"
)

// OpusEncoder encodes PCM16LE mono segments into a stream of 20ms Opus
// packets, each preceded by a 2-byte big-endian length so the client can
// refragment them without a container.
type OpusEncoder struct {
	enc          *opus.Encoder
	sampleRate   int
	frameSamples int
	pcmBuf       []int16
}

// NewOpusEncoder builds a mono VoIP-tuned encoder. sampleRate must be one the
// codec supports (8, 12, 16, 24 or 48kHz).
func NewOpusEncoder(sampleRate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:          enc,
		sampleRate:   sampleRate,
		frameSamples: sampleRate / 50, // 20ms
	}, nil
}

// EncodeFrames consumes one PCM segment and returns the framed packets. The
// tail shorter than a full frame is padded with silence so segment boundaries
// stay aligned with what the listener hears.
func (e *OpusEncoder) EncodeFrames(pcm []byte) ([]byte, error) {
	if len(pcm) < 2 {
		return nil, nil
	}
	need := len(pcm) / 2
	for i := 0; i < need; i++ {
		e.pcmBuf = append(e.pcmBuf, int16(uint16(pcm[2*i])|uint16(pcm[2*i+1])<<8))
	}
	if rem := len(e.pcmBuf) % e.frameSamples; rem != 0 {
		e.pcmBuf = append(e.pcmBuf, make([]int16, e.frameSamples-rem)...)
	}

	var out []byte
	opusBuf := make([]byte, 4000)
	for len(e.pcmBuf) >= e.frameSamples {
		frame := e.pcmBuf[:e.frameSamples]
		n, err := e.enc.Encode(frame, opusBuf)
		if err != nil {
			return nil, fmt.Errorf("opus encode: %w", err)
		}
		if n > 0 {
			out = appendFrame(out, opusBuf[:n])
		}
		e.pcmBuf = e.pcmBuf[e.frameSamples:]
	}
	e.pcmBuf = nil
	return out, nil
}

func appendFrame(dst, pkt []byte) []byte {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(pkt)))
	dst = append(dst, hdr[:]...)
	return append(dst, pkt...)
}

// SplitFrames parses a framed packet stream back into individual packets.
// Used by tests and diagnostic tooling.
func SplitFrames(stream []byte) ([][]byte, error) {
	var pkts [][]byte
	for len(stream) > 0 {
		if len(stream) < 2 {
			return nil, fmt.Errorf("truncated frame header")
		}
		n := int(binary.BigEndian.Uint16(stream[:2]))
		stream = stream[2:]
		if len(stream) < n {
			return nil, fmt.Errorf("truncated frame: want %d bytes, have %d", n, len(stream))
		}
		pkts = append(pkts, stream[:n])
		stream = stream[n:]
	}
	return pkts, nil
}
