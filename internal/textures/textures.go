// Package textures downloads the planet texture set used by the orrery
// front-end and emits a manifest mapping logical names to local paths.
package textures

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the texture host all filenames are resolved against.
const DefaultBaseURL = "https://www.solarsystemscope.com/textures/download/"

// Entry maps a logical texture name to its remote filename.
type Entry struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// Mapping is an ordered texture list; manifest output preserves this
// order.
type Mapping []Entry

// DefaultMapping returns the built-in solar-system texture set.
func DefaultMapping() Mapping {
	return Mapping{
		{Name: "SUN", File: "2k_sun.jpg"},
		{Name: "MERCURY", File: "2k_mercury.jpg"},
		{Name: "VENUS", File: "2k_venus_surface.jpg"},
		{Name: "EARTH", File: "2k_earth_daymap.jpg"},
		{Name: "MOON", File: "2k_moon.jpg"},
		{Name: "MARS", File: "2k_mars.jpg"},
		{Name: "JUPITER", File: "2k_jupiter.jpg"},
		{Name: "SATURN", File: "2k_saturn.jpg"},
		{Name: "SATURN_RING", File: "2k_saturn_ring_alpha.jpg"},
		{Name: "URANUS", File: "2k_uranus.jpg"},
		{Name: "NEPTUNE", File: "2k_neptune.jpg"},
		{Name: "MILKY_WAY", File: "2k_stars_milky_way.jpg"},
	}
}

// LoadMapping reads a texture mapping from a YAML file: a list of
// {name, file} entries. Order in the file is preserved.
func LoadMapping(path string) (Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}

	var m Mapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing mapping file: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("mapping file %s declares no textures", path)
	}
	for i, e := range m {
		if e.Name == "" || e.File == "" {
			return nil, fmt.Errorf("mapping entry %d is missing name or file", i)
		}
	}
	return m, nil
}

// PathEntry is one manifest line: logical name and local relative path.
type PathEntry struct {
	Name string
	Path string
}

// Result accounts for one downloader run.
type Result struct {
	Paths  []PathEntry
	Failed []string
}

// Manifest renders the result as the JS object literal the front-end
// pastes into its texture table, in mapping order.
func (r Result) Manifest() string {
	var b strings.Builder
	b.WriteString("const SSS_TEXTURES = {\n")
	for _, p := range r.Paths {
		fmt.Fprintf(&b, "    %s: \"../%s\",\n", p.Name, p.Path)
	}
	b.WriteString("};\n")
	return b.String()
}

// Downloader fetches texture files sequentially into a local directory.
type Downloader struct {
	baseURL    string
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDownloader creates a Downloader writing into dir. An empty baseURL
// falls back to DefaultBaseURL.
func NewDownloader(baseURL, dir string, logger *slog.Logger) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Downloader{
		baseURL: baseURL,
		dir:     dir,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Run processes the mapping in order. In pathsOnly mode no network calls
// are made and every entry gets a manifest line. Otherwise each texture is
// downloaded; an individual failure is logged and skipped, and the batch
// continues with the next name.
func (d *Downloader) Run(ctx context.Context, mapping Mapping, pathsOnly bool) Result {
	var res Result

	for _, e := range mapping {
		localPath := filepath.Join(d.dir, e.File)

		if pathsOnly {
			res.Paths = append(res.Paths, PathEntry{Name: e.Name, Path: relPath(localPath)})
			continue
		}

		if err := d.download(ctx, e, localPath); err != nil {
			d.logger.Error("texture download failed", "component", "textures", "name", e.Name, "error", err)
			res.Failed = append(res.Failed, e.Name)
			continue
		}
		d.logger.Info("texture downloaded", "component", "textures", "name", e.Name, "path", localPath)
		res.Paths = append(res.Paths, PathEntry{Name: e.Name, Path: relPath(localPath)})
	}

	return res
}

func (d *Downloader) download(ctx context.Context, e Entry, localPath string) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("creating texture dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+e.File, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", e.File, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, e.File)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(localPath)
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return out.Close()
}

// relPath normalizes a local path for the manifest, mirroring the
// front-end's expectation of a path relative to the project root.
func relPath(p string) string {
	p = filepath.ToSlash(p)
	return strings.TrimPrefix(p, "./")
}
