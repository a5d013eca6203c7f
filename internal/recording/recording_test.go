package recording_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kavachlabs/kavach/internal/recording"
	"github.com/kavachlabs/kavach/internal/wire"
	"github.com/kavachlabs/kavach/pkg/audio"
)

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	w, err := recording.Create(dir, "call-1", started)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	frames := []struct {
		role wire.Role
		at   time.Time
		pcm  []byte
	}{
		{wire.RoleScammer, started.Add(10 * time.Millisecond), []byte{1, 2, 3, 4}},
		{wire.RoleOperator, started.Add(20 * time.Millisecond), []byte{5, 6}},
		{wire.RoleScammer, started.Add(30 * time.Millisecond), []byte{7, 8, 9}},
	}
	for _, f := range frames {
		if err := w.Append(f.role, f.at, f.pcm); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := recording.Open(filepath.Join(dir, "call-1"+recording.FileExtension))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	hdr := r.Header()
	if hdr.CallID != "call-1" || hdr.Version != recording.FormatVersion {
		t.Fatalf("header = %+v", hdr)
	}
	if !hdr.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", hdr.StartedAt, started)
	}
	if hdr.Codec != audio.CodecPCM16K || hdr.SampleRate != audio.CanonicalSampleRate {
		t.Fatalf("header = %+v", hdr)
	}

	for i, want := range frames {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next[%d]: %v", i, err)
		}
		if got.Role != want.role {
			t.Errorf("frame %d role = %v, want %v", i, got.Role, want.role)
		}
		if !got.At.Equal(want.at) {
			t.Errorf("frame %d at = %v, want %v", i, got.At, want.at)
		}
		if string(got.PCM) != string(want.pcm) {
			t.Errorf("frame %d pcm = %v, want %v", i, got.PCM, want.pcm)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next past end = %v, want io.EOF", err)
	}
}

func TestAppendAfterClose(t *testing.T) {
	w, err := recording.Create(t.TempDir(), "call-2", time.Now())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Append(wire.RoleOperator, time.Now(), []byte{1}); !errors.Is(err, recording.ErrClosed) {
		t.Fatalf("Append = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCreateRefusesExistingLog(t *testing.T) {
	dir := t.TempDir()
	if _, err := recording.Create(dir, "call-3", time.Now()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := recording.Create(dir, "call-3", time.Now()); err == nil {
		t.Fatal("Create overwrote an existing log")
	}
}

func TestFactoryCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "recordings")
	factory := recording.NewFactory(dir)

	rec, err := factory("call-4", time.Now())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := rec.Append(wire.RoleScammer, time.Now(), []byte{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "call-4"+recording.FileExtension)); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken"+recording.FileExtension)
	// A length prefix promising more bytes than the file holds.
	if err := os.WriteFile(path, []byte{0x20, 'x'}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := recording.Open(path); err == nil {
		t.Fatal("Open accepted a truncated file")
	}
}
