package detector

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// fetchModel returns a local path for the model asset, downloading it into
// cacheDir when src is an http(s) URL that is not cached yet.
func fetchModel(ctx context.Context, src, cacheDir string) (string, error) {
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("model asset: %w", err)
		}
		return src, nil
	}

	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "pinchball-models")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("create model cache: %w", err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "model.task"
	}
	dst := filepath.Join(cacheDir, name)

	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		return dst, nil
	}

	log.Printf("Downloading model asset from %s", src)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build model request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download model: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(cacheDir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write model file: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("download model: empty body")
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store model file: %w", err)
	}

	return dst, nil
}
