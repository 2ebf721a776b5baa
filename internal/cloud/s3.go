package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ReportArchive stores compliance reports in S3 for auditors.
type ReportArchive struct {
	svc     s3API
	presign presignAPI
	bucket  string
	expires time.Duration
}

func NewReportArchive(cfg aws.Config, bucket string) *ReportArchive {
	svc := s3.NewFromConfig(cfg)
	return &ReportArchive{svc: svc, presign: s3.NewPresignClient(svc), bucket: bucket, expires: time.Hour}
}

// ReportKey is compliance/<facility>/<start>_<end>.json with RFC3339 UTC bounds.
func ReportKey(r domain.ComplianceRecord) string {
	return fmt.Sprintf("compliance/%s/%s_%s.json",
		r.FacilityID,
		r.PeriodStart.UTC().Format(time.RFC3339),
		r.PeriodEnd.UTC().Format(time.RFC3339))
}

// Archive uploads the record and returns its key and a presigned download URL.
func (c *ReportArchive) Archive(ctx context.Context, r domain.ComplianceRecord) (string, string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal report: %w", err)
	}
	key := ReportKey(r)

	_, err = c.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"uploaded-at": time.Now().UTC().Format(time.RFC3339),
			"facility":    r.FacilityID,
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	presigned, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = c.expires
	})
	if err != nil {
		return key, "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return key, presigned.URL, nil
}
