// Package archive uploads completed audit reports to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Config locates the bucket reports are written to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Report is the archived document for one audit.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Account     ReportAccount    `json:"account"`
	Audit       models.Audit     `json:"audit"`
	Phases      []models.Phase   `json:"phases"`
	Findings    []models.Finding `json:"findings"`
}

// ReportAccount is the subset of the account safe to archive.
type ReportAccount struct {
	ID       string          `json:"id"`
	Provider models.Provider `json:"provider"`
	Name     string          `json:"name"`
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver writes reports as JSON objects keyed
// <prefix>/<provider>/<account>/<audit>.json.
type Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// New connects a minio client for cfg.
func New(cfg Config) (*Archiver, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Archiver{client: mc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key the report for r is stored under.
func (a *Archiver) Key(r *Report) string {
	return path.Join(a.prefix, string(r.Account.Provider), r.Account.ID, r.Audit.ID+".json")
}

// Archive uploads r and returns its object key.
func (a *Archiver) Archive(ctx context.Context, r *Report) (string, error) {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := a.Key(r)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}
	return key, nil
}
