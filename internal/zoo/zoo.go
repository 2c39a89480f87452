package zoo

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/23skdu/longbow-distill/internal/logger"
	"github.com/23skdu/longbow-distill/internal/metrics"
)

// DefaultBaseURL hosts the pretrained teacher checkpoint archives.
const DefaultBaseURL = "https://zoo.longbow.dev"

// markerName is written next to a checkpoint once its archive has been
// fetched and verified. Its content is the family version, so bumping a
// version invalidates the cached checkpoint.
const markerName = ".built"

// Family is one provisionable teacher-model family. A closed table of
// these replaces per-family subclassing: each record carries the archive
// to fetch, the canonical checkpoint path, and the identifier pair for
// the wide and narrow student agents.
type Family struct {
	Name        string
	ArchiveName string
	ModelRel    string // checkpoint path relative to the data root
	Version     string
	WideAgent   string
	NarrowAgent string
}

var families = []*Family{
	{
		Name:        "bart_large",
		ArchiveName: "bart_large.tar.gz",
		ModelRel:    filepath.Join("models", "bart", "bart_large", "model"),
		Version:     "v1.0",
		WideAgent:   "distill_bart",
		NarrowAgent: "distill_narrow_bart",
	},
	{
		Name:        "blender_90M",
		ArchiveName: "blender_90M.tar.gz",
		ModelRel:    filepath.Join("models", "blender", "blender_90M", "model"),
		Version:     "v1.0",
		WideAgent:   "distill_transformer",
		NarrowAgent: "distill_narrow_transformer",
	},
}

// Families returns the provisionable model families.
func Families() []*Family {
	return families
}

// Lookup returns the family with the given name.
func Lookup(name string) (*Family, error) {
	for _, f := range families {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unknown model family: %s", name)
}

// ModelFile returns the canonical checkpoint path under dataRoot. By
// convention the dictionary and serialized prior configuration live next
// to it as <model>.dict and <model>.opt.
func (f *Family) ModelFile(dataRoot string) string {
	return filepath.Join(dataRoot, f.ModelRel)
}

// DictFile returns the dictionary path next to the checkpoint.
func (f *Family) DictFile(dataRoot string) string {
	return f.ModelFile(dataRoot) + ".dict"
}

// InitOptFile returns the serialized prior-configuration path next to
// the checkpoint.
func (f *Family) InitOptFile(dataRoot string) string {
	return f.ModelFile(dataRoot) + ".opt"
}

func (f *Family) markerFile(dataRoot string) string {
	return filepath.Join(filepath.Dir(f.ModelFile(dataRoot)), markerName)
}

// Provisioner downloads and verifies checkpoint archives. The zero value
// uses the default zoo host and http.DefaultClient; tests point BaseURL
// at a local server.
type Provisioner struct {
	BaseURL string
	Client  *http.Client
}

func (p *Provisioner) baseURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (p *Provisioner) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// Download provisions the family's checkpoint under dataRoot. It is
// idempotent: when the marker file already records the current family
// version, nothing is fetched and nothing is mutated. A missing or
// unreadable remote archive is fatal; the rest of the harness cannot run
// without the teacher checkpoint.
func (p *Provisioner) Download(ctx context.Context, f *Family, dataRoot string) error {
	log := logger.Log.Component("zoo")
	start := time.Now()

	if built, err := os.ReadFile(f.markerFile(dataRoot)); err == nil {
		if strings.TrimSpace(string(built)) == f.Version {
			log.Debug("checkpoint already built", "family", f.Name, "version", f.Version)
			metrics.RecordDownload(f.Name, "cached", 0, time.Since(start))
			return nil
		}
		log.Info("checkpoint version stale, refetching",
			"family", f.Name, "have", strings.TrimSpace(string(built)), "want", f.Version)
	}

	url := p.baseURL() + "/" + f.ArchiveName
	log.Info("downloading checkpoint", "family", f.Name, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.RecordDownload(f.Name, "error", 0, time.Since(start))
		return fmt.Errorf("build download request for %s: %w", f.Name, err)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		metrics.RecordDownload(f.Name, "error", 0, time.Since(start))
		return fmt.Errorf("fetch checkpoint archive for %s: %w", f.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.RecordDownload(f.Name, "error", 0, time.Since(start))
		return fmt.Errorf("fetch checkpoint archive for %s: %s returned %s", f.Name, url, resp.Status)
	}

	bytes, err := extractTarGz(resp.Body, dataRoot)
	if err != nil {
		metrics.RecordDownload(f.Name, "error", bytes, time.Since(start))
		return fmt.Errorf("extract checkpoint archive for %s: %w", f.Name, err)
	}

	if err := p.verify(f, dataRoot); err != nil {
		metrics.RecordDownload(f.Name, "error", bytes, time.Since(start))
		return err
	}

	if err := os.WriteFile(f.markerFile(dataRoot), []byte(f.Version+"\n"), 0o644); err != nil {
		metrics.RecordDownload(f.Name, "error", bytes, time.Since(start))
		return fmt.Errorf("write build marker for %s: %w", f.Name, err)
	}

	log.Info("checkpoint ready", "family", f.Name, "bytes", bytes, "model", f.ModelFile(dataRoot))
	metrics.RecordDownload(f.Name, "fetched", bytes, time.Since(start))
	return nil
}

// verify checks that the extracted archive carried the checkpoint and
// its dictionary and prior-configuration siblings.
func (p *Provisioner) verify(f *Family, dataRoot string) error {
	for _, path := range []string{f.ModelFile(dataRoot), f.DictFile(dataRoot), f.InitOptFile(dataRoot)} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("checkpoint archive for %s incomplete: missing %s", f.Name, path)
		}
	}
	return nil
}

// extractTarGz unpacks a gzipped tarball under destDir and returns the
// number of file bytes written. Entries escaping destDir are rejected.
func extractTarGz(r io.Reader, destDir string) (int64, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	var written int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read tar entry: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return written, fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return written, fmt.Errorf("create dir for %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return written, fmt.Errorf("create file %s: %w", target, err)
			}
			n, err := io.Copy(out, tr)
			written += n
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return written, fmt.Errorf("write file %s: %w", target, err)
			}
		default:
			// Symlinks and specials are not expected in checkpoint archives.
			return written, fmt.Errorf("unsupported tar entry type %d for %s", hdr.Typeflag, hdr.Name)
		}
	}
}
