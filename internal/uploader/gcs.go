package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"mirage/internal/config"
	"mirage/internal/util"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSUploader uploads run directories to Google Cloud Storage.
type GCSUploader struct {
	cfg    config.GCSConfig
	client *storage.Client
}

// NewGCS constructs an uploader from GCS configuration.
func NewGCS(cfg config.GCSConfig) (*GCSUploader, error) {
	if !cfg.Enabled {
		return &GCSUploader{cfg: cfg}, nil
	}
	var opts []option.ClientOption
	if creds := strings.TrimSpace(cfg.CredentialsFile); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	return &GCSUploader{cfg: cfg, client: client}, nil
}

// Enabled reports whether GCS uploads are configured.
func (u *GCSUploader) Enabled() bool {
	return u.cfg.Enabled
}

// UploadDir uploads every file under dir and returns the GCS URL prefix.
func (u *GCSUploader) UploadDir(ctx context.Context, dir string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("gcs uploader is not initialized")
	}
	objects, root, err := listObjects(dir, u.cfg.Prefix)
	if err != nil {
		return "", err
	}
	err = util.ParallelEach(ctx, len(objects), func(ctx context.Context, i int) error {
		return u.uploadFile(ctx, objects[i])
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", u.cfg.Bucket, root), nil
}

func (u *GCSUploader) uploadFile(ctx context.Context, obj object) error {
	file, err := os.Open(obj.path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(file, "gcs upload file")

	writer := u.client.Bucket(u.cfg.Bucket).Object(obj.key).NewWriter(ctx)
	writer.ContentType = contentType(obj.key)
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "copy gs://%s/%s", u.cfg.Bucket, obj.key)
	}
	return writer.Close()
}
