// Package upload issues presigned URLs for applicant documents.
package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultExpiry = 15 * time.Minute

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Expiry    time.Duration
}

// Presigner signs PUT URLs against an S3 compatible object store. Signing
// happens locally when a region is configured.
type Presigner struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	now    func() time.Time
}

func NewPresigner(cfg Config) (*Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("upload bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Presigner{
		client: client,
		bucket: cfg.Bucket,
		expiry: expiry,
		now:    time.Now,
	}, nil
}

// PresignPut returns a URL the caller can PUT the object to, and when it
// stops being valid.
func (p *Presigner) PresignPut(ctx context.Context, objectKey string) (string, time.Time, error) {
	issued := p.now()
	u, err := p.client.PresignedPutObject(ctx, p.bucket, objectKey, p.expiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return u.String(), issued.Add(p.expiry), nil
}

// ObjectKey is the storage path of a step document.
func ObjectKey(projectID, phase, step uint64, docType string) string {
	return fmt.Sprintf("projects/%d/%d/%d/%s", projectID, phase, step, docType)
}
