package snapshot

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/belowgo/below/internal/procfs"
	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func u64(v uint64) *uint64 { return &v }

func writeTestStore(t *testing.T, dir string, timestamps []int64) {
	t.Helper()
	w, err := store.NewWriter(dir, store.WriterOptions{SyncInterval: 1, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, ts := range timestamps {
		s := &sample.Sample{
			Timestamp: ts,
			System: sample.System{
				Stat: procfs.Stat{
					TotalCPU:          &procfs.CPUStat{UserUsec: u64(uint64(ts))},
					BootTimeEpochSecs: u64(1_600_000_000),
				},
			},
			Cgroup:    sample.CgroupNode{Name: "/", FullPath: "/"},
			Processes: procfs.PidMap{},
		}
		if err := w.Put(s); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExportIngestRoundTrip(t *testing.T) {
	storeDir := t.TempDir()
	writeTestStore(t, storeDir, []int64{1000, 1005, 1010})

	var buf bytes.Buffer
	begin := time.Unix(900, 0)
	end := time.Unix(1100, 0)
	if err := Export(storeDir, &buf, begin, end, "snaphost", "boot-1"); err != nil {
		t.Fatalf("Export: %v", err)
	}

	destDir := t.TempDir()
	manifest, err := Ingest(bytes.NewReader(buf.Bytes()), destDir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if manifest.Host != "snaphost" || manifest.BootID != "boot-1" {
		t.Errorf("manifest = %+v", manifest)
	}
	if manifest.BeginTs != 900 || manifest.EndTs != 1100 {
		t.Errorf("manifest range = %d..%d", manifest.BeginTs, manifest.EndTs)
	}

	// The extracted directory opens as a read-only store.
	c, err := store.NewCursor(destDir)
	if err != nil {
		t.Fatalf("NewCursor on extracted dir: %v", err)
	}
	var got []int64
	for {
		ts, err := c.Next()
		if err != nil {
			break
		}
		if _, err := c.Read(); err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, int64(ts))
	}
	if len(got) != 3 {
		t.Errorf("replayed %d records from snapshot, want 3", len(got))
	}
}

func TestExportEmptyRange(t *testing.T) {
	storeDir := t.TempDir()
	writeTestStore(t, storeDir, []int64{1000})

	var buf bytes.Buffer
	err := Export(storeDir, &buf, time.Unix(900_000_000, 0), time.Unix(900_000_100, 0), "h", "b")
	if !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("err = %v, want ErrEmptyRange", err)
	}
}

func TestIngestRejectsTruncatedArchive(t *testing.T) {
	// A real snapshot cut short, so its leading manifest member is unreadable.
	storeDir := t.TempDir()
	writeTestStore(t, storeDir, []int64{1000})

	var buf bytes.Buffer
	if err := Export(storeDir, &buf, time.Unix(0, 0), time.Unix(2000, 0), "h", "b"); err != nil {
		t.Fatal(err)
	}
	// Ingest only the first 64 bytes of the stream.
	_, err := Ingest(bytes.NewReader(buf.Bytes()[:64]), t.TempDir())
	if err == nil {
		t.Fatal("truncated snapshot must not ingest")
	}
}

func TestIngestFileAndExportFile(t *testing.T) {
	storeDir := t.TempDir()
	writeTestStore(t, storeDir, []int64{1000, 1005})

	outPath := filepath.Join(t.TempDir(), "snap.tar.gz")
	if err := ExportFile(storeDir, outPath, time.Unix(0, 0), time.Unix(2000, 0), "h", "b"); err != nil {
		t.Fatalf("ExportFile: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	destDir := filepath.Join(t.TempDir(), "extracted")
	manifest, err := IngestFile(outPath, destDir)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if manifest.Version != ManifestVersion {
		t.Errorf("version = %d", manifest.Version)
	}
}
