package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	minio "github.com/minio/minio-go/v7"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.key, f.contentType = bucket, object, opts.ContentType
	f.body, _ = io.ReadAll(r)
	return minio.UploadInfo{Size: size}, nil
}

func testReport() *Report {
	return &Report{
		Account:  ReportAccount{ID: "acc-1", Provider: models.ProviderGCP, Name: "prod"},
		Audit:    models.Audit{ID: "a-1", Status: models.AuditCompleted},
		Findings: []models.Finding{{FindingID: "GCP-GCS-001", Severity: models.SeverityCritical}},
	}
}

func TestArchive_UploadsJSONUnderKey(t *testing.T) {
	fp := &fakePutter{}
	a := &Archiver{client: fp, bucket: "reports", prefix: "audits"}

	key, err := a.Archive(context.Background(), testReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "audits/gcp/acc-1/a-1.json" {
		t.Errorf("key = %q", key)
	}
	if fp.bucket != "reports" || fp.contentType != "application/json" {
		t.Errorf("bucket=%q content-type=%q", fp.bucket, fp.contentType)
	}

	var got Report
	if err := json.Unmarshal(fp.body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got.GeneratedAt.IsZero() || len(got.Findings) != 1 {
		t.Errorf("decoded report = %+v", got)
	}
}

func TestArchive_UploadError(t *testing.T) {
	a := &Archiver{client: &fakePutter{err: errors.New("access denied")}, bucket: "reports"}
	if _, err := a.Archive(context.Background(), testReport()); err == nil {
		t.Fatal("expected upload error")
	}
}
