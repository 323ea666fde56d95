// Package file publishes collected results into a local directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/3leaps/glourbee/pkg/provider"
)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return errors.New("file sink: base dir is required")
	}
	return nil
}

// Provider stores each key as a file below baseDir. Keys use forward
// slashes and may not climb out of baseDir.
type Provider struct {
	baseDir string
}

var _ provider.Sink = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	target, err := p.resolve(key)
	if err != nil {
		return nil, p.fail("Head", key, err)
	}
	info, err := os.Stat(target)
	switch {
	case err != nil:
		return nil, p.fail("Head", key, err)
	case info.IsDir():
		return nil, p.fail("Head", key, provider.ErrNotFound)
	}
	return &provider.ObjectMeta{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

// PutObject stages body in a sibling temp file, then renames it over the
// target so readers never see a partial result.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := p.resolve(key)
	if err == nil {
		err = writeAtomic(target, body, contentLength)
	}
	if err != nil {
		return p.fail("PutObject", key, err)
	}
	return nil
}

func writeAtomic(target string, body io.Reader, want int64) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".glourbee-put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if want >= 0 && n != want {
		return fmt.Errorf("short write: %d of %d bytes", n, want)
	}
	return os.Rename(tmp.Name(), target)
}

func (p *Provider) resolve(key string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(rel)), nil
}

func (p *Provider) fail(op, key string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		err = provider.ErrNotFound
	case errors.Is(err, os.ErrPermission):
		err = provider.ErrAccessDenied
	}
	return &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
}
