package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Walk calls fn for every object under prefix, following continuation tokens.
// Returning a non-nil error from fn stops the walk and returns that error.
func Walk(ctx context.Context, p Provider, prefix string, fn func(ObjectSummary) error) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := p.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return err
		}
		for _, obj := range page.Objects {
			if err := fn(obj); err != nil {
				return err
			}
		}
		if !page.IsTruncated || page.ContinuationToken == "" {
			return nil
		}
		token = page.ContinuationToken
	}
}

// Exists reports whether key exists.
func Exists(ctx context.Context, p Provider, key string) (bool, error) {
	_, err := p.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// UploadFile uploads the local file at path to key.
func UploadFile(ctx context.Context, p ObjectPutter, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return p.PutObject(ctx, key, f, st.Size())
}

// DownloadFile writes the object at key to the local path, creating parent
// directories. The file is written to a temporary name and renamed so a
// partial download never appears at path.
func DownloadFile(ctx context.Context, p ObjectGetter, key, path string) (int64, error) {
	body, _, err := p.GetObject(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("rename %s: %w", path, err)
	}
	committed = true
	return n, nil
}

// ReadAll returns the full contents of key.
func ReadAll(ctx context.Context, p ObjectGetter, key string) ([]byte, error) {
	body, _, err := p.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}
