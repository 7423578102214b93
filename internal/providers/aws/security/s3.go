package awssecurity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/aws/common"
)

type bucket struct {
	name   string
	region string
}

// s3Scan lists buckets once through the global endpoint and hands out an S3
// client bound to each bucket's home region. S3 answers requests for a
// bucket sent to another region's endpoint with a redirect error.
type s3Scan struct {
	base    checkBase
	handle  *common.Handle
	global  s3APIClient
	clients map[string]s3APIClient
}

func (b checkBase) newS3Scan(h credentials.Handle, scope checks.Scope) (*s3Scan, error) {
	cl, ah, _, err := b.target(h, scope)
	if err != nil {
		return nil, err
	}
	return &s3Scan{
		base:    b,
		handle:  ah,
		global:  cl.S3,
		clients: map[string]s3APIClient{globalRegion: cl.S3},
	}, nil
}

func (s *s3Scan) client(region string) s3APIClient {
	if c, ok := s.clients[region]; ok {
		return c
	}
	c := s.base.factory(s.handle.ConfigForRegion(region)).S3
	s.clients[region] = c
	return c
}

func (s *s3Scan) buckets(ctx context.Context) ([]bucket, error) {
	out, err := s.global.ListBuckets(ctx, &s3svc.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list S3 buckets: %w", err)
	}
	buckets := make([]bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		bk := bucket{name: aws.ToString(b.Name), region: aws.ToString(b.BucketRegion)}
		if bk.region == "" {
			if bk.region, err = s.locate(ctx, bk.name); err != nil {
				return nil, err
			}
		}
		buckets = append(buckets, bk)
	}
	return buckets, nil
}

// locate maps GetBucketLocation's constraint to a region name. An empty
// constraint is us-east-1 and "EU" is the legacy name of eu-west-1.
func (s *s3Scan) locate(ctx context.Context, name string) (string, error) {
	out, err := s.global.GetBucketLocation(ctx, &s3svc.GetBucketLocationInput{Bucket: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("locate bucket %s: %w", name, err)
	}
	switch loc := string(out.LocationConstraint); loc {
	case "":
		return "us-east-1", nil
	case "EU":
		return "eu-west-1", nil
	default:
		return loc, nil
	}
}

// S3PublicBucketCheck flags buckets whose bucket policy makes them public.
type S3PublicBucketCheck struct{ checkBase }

func (c S3PublicBucketCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	scan, err := c.newS3Scan(h, scope)
	if err != nil {
		return nil, err
	}
	buckets, err := scan.buckets(ctx)
	if err != nil {
		return nil, err
	}

	var (
		findings []models.Finding
		errs     []error
	)
	for _, b := range buckets {
		public, err := isBucketPublic(ctx, scan.client(b.region), b.name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !public {
			continue
		}
		f := checks.NewFinding(c, models.SeverityCritical, b.name, b.region)
		f.ResourceType = "S3_BUCKET"
		f.Description = fmt.Sprintf("S3 bucket %q has a public bucket policy.", b.name)
		f.Recommendation = "Enable S3 Block Public Access and remove public principals from the bucket policy."
		findings = append(findings, withAccount(f, scan.handle.AccountID()))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return findings, nil
}

// isBucketPublic reports whether GetBucketPolicyStatus marks the policy as
// public. A bucket without a policy is not public.
func isBucketPublic(ctx context.Context, client s3APIClient, name string) (bool, error) {
	out, err := client.GetBucketPolicyStatus(ctx, &s3svc.GetBucketPolicyStatusInput{Bucket: aws.String(name)})
	if apiErrorCode(err) == "NoSuchBucketPolicy" {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("policy status of bucket %s: %w", name, err)
	}
	return out.PolicyStatus != nil && aws.ToBool(out.PolicyStatus.IsPublic), nil
}

// S3EncryptionCheck flags buckets without default server-side encryption.
type S3EncryptionCheck struct{ checkBase }

func (c S3EncryptionCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	scan, err := c.newS3Scan(h, scope)
	if err != nil {
		return nil, err
	}
	buckets, err := scan.buckets(ctx)
	if err != nil {
		return nil, err
	}

	var (
		findings []models.Finding
		errs     []error
	)
	for _, b := range buckets {
		_, err := scan.client(b.region).GetBucketEncryption(ctx, &s3svc.GetBucketEncryptionInput{Bucket: aws.String(b.name)})
		switch {
		case err == nil:
			continue
		case apiErrorCode(err) != "ServerSideEncryptionConfigurationNotFoundError":
			errs = append(errs, fmt.Errorf("encryption of bucket %s: %w", b.name, err))
			continue
		}
		f := checks.NewFinding(c, models.SeverityMedium, b.name, b.region)
		f.ResourceType = "S3_BUCKET"
		f.Description = fmt.Sprintf("S3 bucket %q has no default encryption configuration.", b.name)
		f.Recommendation = "Enable default SSE-S3 or SSE-KMS encryption on the bucket."
		findings = append(findings, withAccount(f, scan.handle.AccountID()))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return findings, nil
}
