package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-getter"
)

// hfBaseURL is overridable in tests.
var hfBaseURL = "https://huggingface.co"

// fetchURL downloads an arbitrary URL (archive-aware) into dest using
// go-getter, reporting byte progress.
func fetchURL(ctx context.Context, url, dest string, report func(float64)) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	client := &getter.Client{
		Ctx:              ctx,
		Src:              url,
		Dst:              dest,
		Mode:             getter.ClientModeAny,
		ProgressListener: &getterProgress{report: report},
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	report(1)
	return nil
}

// getterProgress adapts go-getter's progress stream to a fraction callback.
type getterProgress struct {
	report func(float64)
}

func (p *getterProgress) TrackProgress(src string, currentSize, totalSize int64, stream io.ReadCloser) io.ReadCloser {
	return &progressReader{
		ReadCloser: stream,
		read:       currentSize,
		total:      totalSize,
		report:     p.report,
	}
}

type progressReader struct {
	io.ReadCloser
	read   int64
	total  int64
	report func(float64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.read += int64(n)
	if r.total > 0 && r.report != nil {
		r.report(float64(r.read) / float64(r.total))
	}
	return n, err
}

// hfTreeEntry is one file listed by the hub tree API.
type hfTreeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// fetchHuggingFace snapshots a hub repository into dest: lists the file tree
// then downloads each blob, reporting aggregate byte progress.
func fetchHuggingFace(ctx context.Context, repo, revision, dest, token string, report func(float64)) error {
	if revision == "" {
		revision = "main"
	}

	entries, err := hfListTree(ctx, repo, revision, token)
	if err != nil {
		return err
	}

	var totalBytes int64
	var files []hfTreeEntry
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		files = append(files, e)
		totalBytes += e.Size
	}
	if len(files) == 0 {
		return fmt.Errorf("repository %s@%s has no files", repo, revision)
	}

	var fetched int64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(f.Path))
		if err := hfDownloadFile(ctx, repo, revision, f.Path, target, token, func(fileRead int64) {
			if totalBytes > 0 && report != nil {
				report(float64(fetched+fileRead) / float64(totalBytes))
			}
		}); err != nil {
			return err
		}
		fetched += f.Size
	}
	if report != nil {
		report(1)
	}
	return nil
}

func hfListTree(ctx context.Context, repo, revision, token string) ([]hfTreeEntry, error) {
	url := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", hfBaseURL, repo, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository %s: %w", repo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list repository %s: status %d", repo, resp.StatusCode)
	}

	var entries []hfTreeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode repository tree: %w", err)
	}
	return entries, nil
}

func hfDownloadFile(ctx context.Context, repo, revision, path, target, token string, onRead func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", hfBaseURL, repo, revision, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 0} // downloads are cancellable, not timed out
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", path, resp.StatusCode)
	}

	tmp := target + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	var read int64
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				os.Remove(tmp)
				return fmt.Errorf("failed to write %s: %w", tmp, writeErr)
			}
			read += int64(n)
			if onRead != nil {
				onRead(read)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to read %s: %w", path, readErr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", target, err)
	}
	return nil
}
