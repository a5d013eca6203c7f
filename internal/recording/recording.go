// Package recording writes the per-call audio log: one append-only binary
// file per call holding the interleaved normalised audio of both legs.
//
// The file is a sequence of LEB128 length-prefixed records. The first
// record is a JSON header with the call metadata; every following record is
// one audio frame: a role tag byte, the capture timestamp as an unsigned
// varint of Unix microseconds, then the raw canonical PCM. Retention and
// encryption of the produced files belong to the operator of the configured
// directory, not to this package.
package recording

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kavachlabs/kavach/internal/broker"
	"github.com/kavachlabs/kavach/internal/wire"
	"github.com/kavachlabs/kavach/pkg/audio"
)

// FormatVersion identifies the log layout. Bump on incompatible changes.
const FormatVersion = 1

// FileExtension is appended to the call id to name the log file.
const FileExtension = ".kvr"

// Role tags inside audio frame records.
const (
	tagOperator byte = 0x01
	tagScammer  byte = 0x02
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("recording: writer closed")

// Header is the first record of every log file.
type Header struct {
	Version    int       `json:"version"`
	CallID     string    `json:"call_id"`
	StartedAt  time.Time `json:"started_at"`
	Codec      string    `json:"codec"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
}

// Frame is one decoded audio record.
type Frame struct {
	Role wire.Role
	At   time.Time
	PCM  []byte
}

// Writer appends one call's audio frames to its log file. Safe for
// concurrent use; both leg pipelines append through the same Writer.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	buf    *bufio.Writer
	closed bool
}

var _ broker.Recorder = (*Writer)(nil)

// NewFactory returns a [broker.RecorderFactory] that opens one log file per
// call under dir. The directory is created on first use.
func NewFactory(dir string) broker.RecorderFactory {
	return func(callID string, startedAt time.Time) (broker.Recorder, error) {
		return Create(dir, callID, startedAt)
	}
}

// Create opens the log file for callID under dir and writes the header
// record.
func Create(dir, callID string, startedAt time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create dir: %w", err)
	}
	path := filepath.Join(dir, callID+FileExtension)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recording: open %s: %w", path, err)
	}

	w := &Writer{f: f, buf: bufio.NewWriter(f)}
	hdr, err := json.Marshal(Header{
		Version:    FormatVersion,
		CallID:     callID,
		StartedAt:  startedAt.UTC(),
		Codec:      audio.CodecPCM16K,
		SampleRate: audio.CanonicalSampleRate,
		Channels:   1,
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("recording: encode header: %w", err)
	}
	if err := w.writeRecord(hdr); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Append writes one audio frame record.
func (w *Writer) Append(role wire.Role, at time.Time, pcm []byte) error {
	tag := tagOperator
	if role == wire.RoleScammer {
		tag = tagScammer
	}

	var ts [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(ts[:], uint64(at.UnixMicro()))

	record := make([]byte, 0, 1+n+len(pcm))
	record = append(record, tag)
	record = append(record, ts[:n]...)
	record = append(record, pcm...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.writeRecord(record)
}

// writeRecord emits one length-prefixed record. Caller holds w.mu except
// during construction.
func (w *Writer) writeRecord(payload []byte) error {
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(payload)))
	if _, err := w.buf.Write(prefix[:n]); err != nil {
		return fmt.Errorf("recording: write: %w", err)
	}
	if _, err := w.buf.Write(payload); err != nil {
		return fmt.Errorf("recording: write: %w", err)
	}
	return nil
}

// Close flushes and closes the log file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	if flushErr != nil {
		return fmt.Errorf("recording: flush: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("recording: close: %w", closeErr)
	}
	return nil
}

// Reader decodes a log file produced by [Writer].
type Reader struct {
	r      *bufio.Reader
	c      io.Closer
	header Header
}

// Open reads the header record of the log file at path and positions the
// reader at the first audio frame.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recording: open %s: %w", path, err)
	}
	br := bufio.NewReader(f)

	payload, err := readRecord(br)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("recording: read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(payload, &hdr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("recording: decode header: %w", err)
	}
	if hdr.Version != FormatVersion {
		_ = f.Close()
		return nil, fmt.Errorf("recording: unsupported format version %d", hdr.Version)
	}
	return &Reader{r: br, c: f, header: hdr}, nil
}

// Header returns the call metadata record.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next audio frame, or io.EOF at the end of the log.
func (r *Reader) Next() (Frame, error) {
	payload, err := readRecord(r.r)
	if err != nil {
		return Frame{}, err
	}
	if len(payload) < 2 {
		return Frame{}, fmt.Errorf("recording: truncated frame record")
	}

	var role wire.Role
	switch payload[0] {
	case tagOperator:
		role = wire.RoleOperator
	case tagScammer:
		role = wire.RoleScammer
	default:
		return Frame{}, fmt.Errorf("recording: unknown role tag 0x%02x", payload[0])
	}

	micros, n := binary.Uvarint(payload[1:])
	if n <= 0 {
		return Frame{}, fmt.Errorf("recording: bad frame timestamp")
	}
	return Frame{
		Role: role,
		At:   time.UnixMicro(int64(micros)).UTC(),
		PCM:  payload[1+n:],
	}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.c.Close()
}

// readRecord reads one length-prefixed record.
func readRecord(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("recording: truncated record: %w", err)
		}
		return nil, err
	}
	return payload, nil
}
