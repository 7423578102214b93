package awssecurity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	rdssvc "github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

func listDBInstances(ctx context.Context, client rdsAPIClient, region string) ([]rdstypes.DBInstance, error) {
	var instances []rdstypes.DBInstance
	input := &rdssvc.DescribeDBInstancesInput{}
	for {
		out, err := client.DescribeDBInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describe DB instances in %s: %w", region, err)
		}
		instances = append(instances, out.DBInstances...)
		if aws.ToString(out.Marker) == "" {
			return instances, nil
		}
		input.Marker = out.Marker
	}
}

// RDSEncryptionCheck flags DB instances without storage encryption.
type RDSEncryptionCheck struct{ checkBase }

func (c RDSEncryptionCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	instances, err := listDBInstances(ctx, cl.RDS, region)
	if err != nil {
		return nil, err
	}
	var findings []models.Finding
	for _, db := range instances {
		if aws.ToBool(db.StorageEncrypted) {
			continue
		}
		id := aws.ToString(db.DBInstanceIdentifier)
		f := checks.NewFinding(c, models.SeverityHigh, id, region)
		f.ResourceType = "RDS_INSTANCE"
		f.Description = fmt.Sprintf("RDS instance %s does not encrypt its storage.", id)
		f.Recommendation = "Restore the instance from an encrypted snapshot copy."
		findings = append(findings, withAccount(f, ah.AccountID()))
	}
	return findings, nil
}

// RDSPublicAccessCheck flags DB instances reachable from the internet.
type RDSPublicAccessCheck struct{ checkBase }

func (c RDSPublicAccessCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	instances, err := listDBInstances(ctx, cl.RDS, region)
	if err != nil {
		return nil, err
	}
	var findings []models.Finding
	for _, db := range instances {
		if !aws.ToBool(db.PubliclyAccessible) {
			continue
		}
		id := aws.ToString(db.DBInstanceIdentifier)
		f := checks.NewFinding(c, models.SeverityCritical, id, region)
		f.ResourceType = "RDS_INSTANCE"
		f.Description = fmt.Sprintf("RDS instance %s is publicly accessible.", id)
		f.Recommendation = "Disable public accessibility and reach the database through private subnets."
		findings = append(findings, withAccount(f, ah.AccountID()))
	}
	return findings, nil
}
