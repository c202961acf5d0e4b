package deliverables

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/deepdesk/internal/deepresearch"
)

const (
	defaultTimeout     = 5 * time.Minute
	defaultConcurrency = 4
)

// Bundle is what a completed report offers for download.
type Bundle struct {
	TaskID       string
	Title        string
	PDFURL       string
	Deliverables []deepresearch.Deliverable
}

// Artifact is one file written to disk.
type Artifact struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	Pages int    `json:"pages,omitempty"`
}

// Downloader fetches report artifacts concurrently.
type Downloader struct {
	httpClient  *http.Client
	concurrency int
	logger      *slog.Logger
}

// NewDownloader creates a Downloader. A nil client uses a default with a
// generous timeout.
func NewDownloader(hc *http.Client) *Downloader {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Downloader{httpClient: hc, concurrency: defaultConcurrency, logger: slog.Default()}
}

// Download writes the report PDF and every ready deliverable into dir. The
// first failure cancels the remaining downloads.
func (d *Downloader) Download(ctx context.Context, b Bundle, dir string) ([]Artifact, error) {
	jobs := plan(b)
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	results := make([]Artifact, len(jobs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, job := range jobs {
		g.Go(func() error {
			job.Path = filepath.Join(dir, job.Path)
			n, err := d.fetch(gCtx, job.URL, job.Path)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", job.Title, err)
			}
			job.Bytes = n
			if job.Kind == "pdf" {
				pages, err := CountPages(job.Path)
				if err != nil {
					d.logger.Warn("could not read pdf", "path", job.Path, "error", err)
				}
				job.Pages = pages
			}
			results[i] = job
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// plan lists the artifacts to fetch with their relative file names.
func plan(b Bundle) []Artifact {
	var jobs []Artifact
	used := make(map[string]int)
	name := func(base, ext string) string {
		base = slug(base)
		if base == "" {
			base = "report"
		}
		used[base+ext]++
		if n := used[base+ext]; n > 1 {
			return fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		return base + ext
	}

	if b.PDFURL != "" {
		title := b.Title
		if title == "" {
			title = b.TaskID
		}
		jobs = append(jobs, Artifact{Kind: "pdf", Title: title, URL: b.PDFURL, Path: name(title, ".pdf")})
	}
	for _, dl := range b.Deliverables {
		if dl.URL == "" || !ready(dl.Status) {
			continue
		}
		kind := strings.ToLower(strings.TrimPrefix(dl.Type, "."))
		if kind == "" {
			kind = strings.TrimPrefix(extOf(dl.URL), ".")
		}
		title := dl.Title
		if title == "" {
			title = kind
		}
		ext := ""
		if kind != "" {
			ext = "." + kind
		}
		jobs = append(jobs, Artifact{Kind: kind, Title: title, URL: dl.URL, Path: name(title, ext)})
	}
	return jobs
}

func ready(status string) bool {
	switch strings.ToLower(status) {
	case "", "completed", "complete", "ready", "done":
		return true
	}
	return false
}

func extOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

func slug(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("moving %s into place: %w", dest, err)
	}
	return n, nil
}

// CountPages returns the number of pages of the PDF at path.
func CountPages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return 0, fmt.Errorf("parsing pdf: %w", err)
	}
	return r.NumPage(), nil
}
