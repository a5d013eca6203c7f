package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	mp3lib "github.com/hajimehoshi/go-mp3"
	"layeh.com/gopus"
)

// Codec names accepted on the wire. CodecPCM16K is the canonical format
// every normalisation path produces; relayed audio is tagged with it.
const (
	CodecWebMOpus = "webm-opus"
	CodecOggOpus  = "ogg-opus"
	CodecWAVPCM   = "wav-pcm"
	CodecMP3      = "mp3"
	CodecPCM16K   = "pcm-16k"
)

// DefaultCodecs is the codec allowlist applied when none is configured.
var DefaultCodecs = []string{CodecWebMOpus, CodecOggOpus, CodecWAVPCM, CodecMP3}

// ErrUnsupportedCodec is returned for a codec outside the allowlist or
// outside the set the normaliser can decode at all.
var ErrUnsupportedCodec = errors.New("audio: unsupported codec")

// ErrEmptyChunk is returned when a payload decodes to zero samples. Common
// for streaming container chunks that carry only header or metadata pages;
// callers should drop the chunk silently.
var ErrEmptyChunk = errors.New("audio: chunk produced no samples")

// Opus decode parameters. Opus on the wire is 48 kHz; 5760 samples per
// channel is the codec's 120 ms maximum frame.
const (
	opusSampleRate      = 48000
	opusChannels        = 2
	opusMaxFrameSamples = 5760
)

// Normaliser decodes codec-framed chunks from one call leg into canonical
// PCM. It holds per-leg decoder state (Opus decoders carry prediction state
// between frames) and must not be shared across legs or goroutines.
type Normaliser struct {
	allowed []string
	opusDec *gopus.Decoder
}

// NewNormaliser creates a Normaliser accepting the given codec names.
// An empty allowlist means [DefaultCodecs].
func NewNormaliser(allowlist []string) *Normaliser {
	if len(allowlist) == 0 {
		allowlist = DefaultCodecs
	}
	return &Normaliser{allowed: allowlist}
}

// Normalise decodes payload according to codec and returns canonical
// 16 kHz mono 16-bit little-endian PCM.
//
// Returns [ErrUnsupportedCodec] for codecs outside the allowlist and
// [ErrEmptyChunk] for chunks that carried no audio samples.
func (n *Normaliser) Normalise(codec string, payload []byte) ([]byte, error) {
	codec = strings.ToLower(strings.TrimSpace(codec))
	if !slices.Contains(n.allowed, codec) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}

	var (
		pcm        []byte
		sampleRate int
		channels   int
		err        error
	)

	switch codec {
	case CodecWAVPCM:
		pcm, sampleRate, channels, err = DecodeWAV(payload)
	case CodecOggOpus:
		pcm, err = n.decodeOpusPackets(oggOpusPackets(payload))
		sampleRate, channels = opusSampleRate, opusChannels
	case CodecWebMOpus:
		pcm, err = n.decodeOpusPackets(webmOpusPackets(payload))
		sampleRate, channels = opusSampleRate, opusChannels
	case CodecMP3:
		pcm, sampleRate, channels, err = decodeMP3(payload)
	default:
		// Allowlisted but not decodable by this build.
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyChunk
	}
	return toCanonical(pcm, sampleRate, channels)
}

// decodeOpusPackets runs each demuxed Opus packet through the leg's decoder
// and concatenates the 48 kHz stereo PCM output.
func (n *Normaliser) decodeOpusPackets(packets [][]byte) ([]byte, error) {
	if len(packets) == 0 {
		return nil, nil
	}
	if n.opusDec == nil {
		dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			return nil, fmt.Errorf("audio: create opus decoder: %w", err)
		}
		n.opusDec = dec
	}

	var out []byte
	for _, pkt := range packets {
		samples, err := n.opusDec.Decode(pkt, opusMaxFrameSamples, false)
		if err != nil {
			// A corrupt packet mid-stream should not poison the chunk;
			// skip it and keep decoding.
			continue
		}
		out = append(out, Int16sToBytes(samples)...)
	}
	return out, nil
}

// decodeMP3 decodes an MP3 payload. go-mp3 always emits 16-bit stereo at the
// stream's native sample rate.
func decodeMP3(payload []byte) (pcm []byte, sampleRate, channels int, err error) {
	dec, err := mp3lib.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: mp3 decode: %w", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: mp3 read: %w", err)
	}
	return data, dec.SampleRate(), 2, nil
}

// ── Ogg demuxing ─────────────────────────────────────────────────────────────

// oggOpusPackets extracts Opus packets from Ogg pages in data. Header packets
// (OpusHead, OpusTags) are skipped. Pages with bad magic are ignored, which
// tolerates chunks that split mid-page during streaming.
func oggOpusPackets(data []byte) [][]byte {
	var packets [][]byte
	var pending []byte // packet continued across lacing values / pages

	off := 0
	for off+27 <= len(data) {
		if string(data[off:off+4]) != "OggS" {
			// Resync: find the next page boundary.
			idx := bytes.Index(data[off+1:], []byte("OggS"))
			if idx < 0 {
				break
			}
			off += 1 + idx
			continue
		}

		nsegs := int(data[off+26])
		segTable := off + 27
		body := segTable + nsegs
		if body > len(data) {
			break
		}

		pos := body
		for i := range nsegs {
			lace := int(data[segTable+i])
			if pos+lace > len(data) {
				lace = len(data) - pos
			}
			pending = append(pending, data[pos:pos+lace]...)
			pos += lace
			if lace < 255 {
				// Packet complete.
				if !isOpusHeaderPacket(pending) {
					pkt := make([]byte, len(pending))
					copy(pkt, pending)
					packets = append(packets, pkt)
				}
				pending = nil
			}
		}
		off = pos
	}
	return packets
}

func isOpusHeaderPacket(pkt []byte) bool {
	return len(pkt) >= 8 &&
		(string(pkt[:8]) == "OpusHead" || string(pkt[:8]) == "OpusTags")
}

// ── WebM demuxing ────────────────────────────────────────────────────────────

// EBML element ids of the Matroska containers that must be descended into to
// reach audio blocks, and of the blocks themselves.
var webmContainerIDs = map[uint64]bool{
	0x18538067: true, // Segment
	0x1F43B675: true, // Cluster
	0x1654AE6B: true, // Tracks (descended to keep the walk simple)
	0xAE:       true, // TrackEntry
	0xA0:       true, // BlockGroup
}

const (
	webmSimpleBlockID = 0xA3
	webmBlockID       = 0xA1
)

// webmOpusPackets walks the EBML element tree in data and returns the frame
// payloads of every SimpleBlock/Block. Only un-laced blocks are handled,
// which is what MediaRecorder produces for Opus. Truncated trailing elements
// (streaming chunks split mid-element) are dropped.
func webmOpusPackets(data []byte) [][]byte {
	var packets [][]byte
	walkEBML(data, func(id uint64, body []byte) {
		if id != webmSimpleBlockID && id != webmBlockID {
			return
		}
		frame := webmBlockFrame(body)
		if len(frame) > 0 {
			packets = append(packets, frame)
		}
	})
	return packets
}

// walkEBML iterates the EBML elements in data, descending into known
// container elements and invoking fn for every leaf.
func walkEBML(data []byte, fn func(id uint64, body []byte)) {
	off := 0
	for off < len(data) {
		id, n := readEBMLID(data[off:])
		if n == 0 {
			return
		}
		size, m := readEBMLSize(data[off+n:])
		if m == 0 {
			return
		}
		body := off + n + m
		end := body + int(size)
		if size < 0 || end > len(data) {
			// Unknown-size or truncated element: treat the remainder as the
			// body so partially delivered clusters still yield their blocks.
			end = len(data)
		}

		if webmContainerIDs[id] {
			walkEBML(data[body:end], fn)
		} else {
			fn(id, data[body:end])
		}
		off = end
	}
}

// webmBlockFrame strips the block header (track number vint, 16-bit relative
// timecode, flags) and returns the raw codec frame. Laced blocks return nil.
func webmBlockFrame(body []byte) []byte {
	_, n := readEBMLSize(body) // track number shares the vint encoding
	if n == 0 || len(body) < n+3 {
		return nil
	}
	flags := body[n+2]
	if flags&0x06 != 0 { // lacing in use
		return nil
	}
	return body[n+3:]
}

// readEBMLID reads an EBML element id, returning the id (with marker bits
// retained, per Matroska convention) and the number of bytes consumed.
func readEBMLID(data []byte) (uint64, int) {
	if len(data) == 0 || data[0] == 0 {
		return 0, 0
	}
	length := numLeadingZeros(data[0]) + 1
	if length > 4 || len(data) < length {
		return 0, 0
	}
	var id uint64
	for i := range length {
		id = id<<8 | uint64(data[i])
	}
	return id, length
}

// readEBMLSize reads an EBML vint size, returning the value (marker bit
// stripped) and the number of bytes consumed. An all-ones vint means
// "unknown size" and is reported as -1 via wraparound; callers treat any
// out-of-range result as unbounded.
func readEBMLSize(data []byte) (int64, int) {
	if len(data) == 0 || data[0] == 0 {
		return 0, 0
	}
	length := numLeadingZeros(data[0]) + 1
	if length > 8 || len(data) < length {
		return 0, 0
	}
	val := int64(data[0] &^ (0x80 >> (length - 1)))
	allOnes := data[0] == (0xFF >> (length - 1))
	for i := 1; i < length; i++ {
		val = val<<8 | int64(data[i])
		allOnes = allOnes && data[i] == 0xFF
	}
	if allOnes {
		return -1, length
	}
	return val, length
}

func numLeadingZeros(b byte) int {
	n := 0
	for mask := byte(0x80); mask != 0 && b&mask == 0; mask >>= 1 {
		n++
	}
	return n
}
