package awssecurity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cloudtrailsvc "github.com/aws/aws-sdk-go-v2/service/cloudtrail"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// CloudTrailCheck flags accounts without at least one multi-region trail.
// IncludeShadowTrails captures organisation trails created elsewhere.
type CloudTrailCheck struct{ checkBase }

func (c CloudTrailCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	out, err := cl.CloudTrail.DescribeTrails(ctx, &cloudtrailsvc.DescribeTrailsInput{
		IncludeShadowTrails: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("describe CloudTrail trails: %w", err)
	}
	for _, t := range out.TrailList {
		if aws.ToBool(t.IsMultiRegionTrail) {
			return nil, nil
		}
	}
	f := checks.NewFinding(c, models.SeverityHigh, ah.AccountID(), region)
	f.ResourceType = "AWS_ACCOUNT"
	f.Description = "No multi-region CloudTrail trail is configured."
	f.Recommendation = "Create a multi-region trail delivering to a dedicated, access-restricted bucket."
	f = withAccount(f, ah.AccountID())
	f.Metadata["trail_count"] = len(out.TrailList)
	return []models.Finding{f}, nil
}
