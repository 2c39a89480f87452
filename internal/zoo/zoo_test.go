package zoo

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// makeArchive builds a gzipped tarball with the given file contents.
func makeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	return buf.Bytes()
}

func testFamily() *Family {
	return &Family{
		Name:        "tiny_seq2seq",
		ArchiveName: "tiny_seq2seq.tar.gz",
		ModelRel:    filepath.Join("models", "tiny", "tiny_seq2seq", "model"),
		Version:     "v1.0",
		WideAgent:   "distill_tiny",
		NarrowAgent: "distill_narrow_tiny",
	}
}

func serveArchive(t *testing.T, f *Family, archive []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+f.ArchiveName {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Write(archive)
	}))
}

func completeArchive(t *testing.T, f *Family) []byte {
	rel := filepath.ToSlash(f.ModelRel)
	return makeArchive(t, map[string]string{
		rel:           "checkpoint-bytes",
		rel + ".dict": "hello\t1\n",
		rel + ".opt":  `{"n_layers": 12}`,
	})
}

func TestDownloadProvisionsCheckpoint(t *testing.T) {
	f := testFamily()
	var hits atomic.Int64
	srv := serveArchive(t, f, completeArchive(t, f), &hits)
	defer srv.Close()

	dataRoot := t.TempDir()
	p := &Provisioner{BaseURL: srv.URL, Client: srv.Client()}

	if err := p.Download(context.Background(), f, dataRoot); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	for _, path := range []string{f.ModelFile(dataRoot), f.DictFile(dataRoot), f.InitOptFile(dataRoot)} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected provisioned file %s: %v", path, err)
		}
	}
	marker, err := os.ReadFile(filepath.Join(filepath.Dir(f.ModelFile(dataRoot)), ".built"))
	if err != nil {
		t.Fatalf("expected build marker: %v", err)
	}
	if strings.TrimSpace(string(marker)) != f.Version {
		t.Errorf("expected marker %q, got %q", f.Version, marker)
	}
}

func TestDownloadIdempotent(t *testing.T) {
	f := testFamily()
	var hits atomic.Int64
	srv := serveArchive(t, f, completeArchive(t, f), &hits)
	defer srv.Close()

	dataRoot := t.TempDir()
	p := &Provisioner{BaseURL: srv.URL, Client: srv.Client()}

	if err := p.Download(context.Background(), f, dataRoot); err != nil {
		t.Fatalf("first Download failed: %v", err)
	}
	modelBefore, err := os.ReadFile(f.ModelFile(dataRoot))
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}

	if err := p.Download(context.Background(), f, dataRoot); err != nil {
		t.Fatalf("second Download failed: %v", err)
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("expected exactly 1 archive fetch, got %d", got)
	}
	modelAfter, err := os.ReadFile(f.ModelFile(dataRoot))
	if err != nil {
		t.Fatalf("read checkpoint after second download: %v", err)
	}
	if !bytes.Equal(modelBefore, modelAfter) {
		t.Error("second Download mutated the checkpoint")
	}
}

func TestDownloadStaleVersionRefetches(t *testing.T) {
	f := testFamily()
	var hits atomic.Int64
	srv := serveArchive(t, f, completeArchive(t, f), &hits)
	defer srv.Close()

	dataRoot := t.TempDir()
	p := &Provisioner{BaseURL: srv.URL, Client: srv.Client()}

	if err := p.Download(context.Background(), f, dataRoot); err != nil {
		t.Fatalf("first Download failed: %v", err)
	}

	f.Version = "v1.1"
	if err := p.Download(context.Background(), f, dataRoot); err != nil {
		t.Fatalf("Download after version bump failed: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected refetch after version bump, got %d fetches", got)
	}
}

func TestDownloadRemoteMissing(t *testing.T) {
	f := testFamily()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dataRoot := t.TempDir()
	p := &Provisioner{BaseURL: srv.URL, Client: srv.Client()}

	err := p.Download(context.Background(), f, dataRoot)
	if err == nil {
		t.Fatal("expected error for missing remote archive")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status in error, got: %v", err)
	}
}

func TestDownloadIncompleteArchive(t *testing.T) {
	f := testFamily()
	// Archive lacks the .dict and .opt siblings
	archive := makeArchive(t, map[string]string{
		filepath.ToSlash(f.ModelRel): "checkpoint-bytes",
	})
	var hits atomic.Int64
	srv := serveArchive(t, f, archive, &hits)
	defer srv.Close()

	dataRoot := t.TempDir()
	p := &Provisioner{BaseURL: srv.URL, Client: srv.Client()}

	err := p.Download(context.Background(), f, dataRoot)
	if err == nil {
		t.Fatal("expected error for incomplete archive")
	}
	if !strings.Contains(err.Error(), "incomplete") {
		t.Errorf("unexpected error: %v", err)
	}

	// No marker must be written for a failed provision
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(f.ModelFile(dataRoot)), ".built")); statErr == nil {
		t.Error("marker written despite failed verification")
	}
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	archive := makeArchive(t, map[string]string{
		"../escape": "bad",
	})

	_, err := extractTarGz(bytes.NewReader(archive), t.TempDir())
	if err == nil {
		t.Fatal("expected error for escaping tar entry")
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"bart_large", false},
		{"blender_90M", false},
		{"gpt_13B", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Lookup(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unknown family")
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if f.Name != tt.name {
				t.Errorf("expected %s, got %s", tt.name, f.Name)
			}
			if f.WideAgent == "" || f.NarrowAgent == "" {
				t.Error("expected both agent identifiers to be set")
			}
		})
	}
}

func TestFamilyPathConventions(t *testing.T) {
	f, err := Lookup("blender_90M")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	model := f.ModelFile("data")
	if f.DictFile("data") != model+".dict" {
		t.Errorf("dict file must be a sibling: %s", f.DictFile("data"))
	}
	if f.InitOptFile("data") != model+".opt" {
		t.Errorf("opt file must be a sibling: %s", f.InitOptFile("data"))
	}
}

func TestFamiliesTable(t *testing.T) {
	fams := Families()
	if len(fams) != 2 {
		t.Fatalf("expected 2 families, got %d", len(fams))
	}

	seen := map[string]bool{}
	for _, f := range fams {
		for _, agent := range []string{f.WideAgent, f.NarrowAgent} {
			if seen[agent] {
				t.Errorf("duplicate agent identifier: %s", agent)
			}
			seen[agent] = true
		}
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct agent identifiers, got %d", len(seen))
	}
}
