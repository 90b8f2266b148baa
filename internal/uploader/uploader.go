// Package uploader copies a finished run directory to cloud object storage.
package uploader

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"mirage/internal/config"

	"github.com/pkg/errors"
)

// Uploader publishes a local directory and returns its remote prefix.
type Uploader interface {
	Enabled() bool
	UploadDir(ctx context.Context, dir string) (string, error)
}

// NoopUploader is used when no backend is configured.
type NoopUploader struct{}

// Enabled implements Uploader.
func (NoopUploader) Enabled() bool {
	return false
}

// UploadDir implements Uploader.
func (NoopUploader) UploadDir(context.Context, string) (string, error) {
	return "", nil
}

// Multi fans an upload out to several backends.
type Multi []Uploader

// Enabled implements Uploader.
func (m Multi) Enabled() bool {
	for _, u := range m {
		if u.Enabled() {
			return true
		}
	}
	return false
}

// UploadDir uploads to every enabled backend and joins their prefixes.
func (m Multi) UploadDir(ctx context.Context, dir string) (string, error) {
	var urls []string
	for _, u := range m {
		if !u.Enabled() {
			continue
		}
		url, err := u.UploadDir(ctx, dir)
		if err != nil {
			return strings.Join(urls, " "), err
		}
		urls = append(urls, url)
	}
	return strings.Join(urls, " "), nil
}

// New builds the uploaders enabled in cfg.
func New(cfg config.StorageConfig) (Uploader, error) {
	if !cfg.CloudEnabled() {
		return NoopUploader{}, nil
	}
	var out Multi
	if cfg.S3.Enabled {
		u, err := NewS3(cfg.S3)
		if err != nil {
			return nil, errors.Wrap(err, "s3 uploader")
		}
		out = append(out, u)
	}
	if cfg.GCS.Enabled {
		u, err := NewGCS(cfg.GCS)
		if err != nil {
			return nil, errors.Wrap(err, "gcs uploader")
		}
		out = append(out, u)
	}
	return out, nil
}

type object struct {
	path string
	key  string
}

// listObjects walks dir and maps every regular file to
// <prefix>/<base of dir>/<relative path>.
func listObjects(dir, prefix string) ([]object, string, error) {
	base := filepath.Base(filepath.Clean(dir))
	root := path.Join(strings.Trim(prefix, "/"), base)
	var out []object
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, object{path: p, key: path.Join(root, filepath.ToSlash(rel))})
		return nil
	})
	return out, root + "/", err
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
