package awssecurity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cloudwatchsvc "github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// AlarmsCheck flags regions that have no CloudWatch metric alarms at all.
type AlarmsCheck struct{ checkBase }

func (c AlarmsCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	out, err := cl.CloudWatch.DescribeAlarms(ctx, &cloudwatchsvc.DescribeAlarmsInput{MaxRecords: aws.Int32(1)})
	if err != nil {
		return nil, fmt.Errorf("describe alarms in %s: %w", region, err)
	}
	if len(out.MetricAlarms) > 0 || len(out.CompositeAlarms) > 0 {
		return nil, nil
	}
	f := checks.NewFinding(c, models.SeverityLow, "cloudwatch/"+region, region)
	f.ResourceType = "CLOUDWATCH"
	f.Description = fmt.Sprintf("No CloudWatch alarms are defined in %s.", region)
	f.Recommendation = "Create alarms for root sign-in, IAM policy changes and unauthorized API calls."
	return []models.Finding{withAccount(f, ah.AccountID())}, nil
}
