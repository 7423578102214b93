package awssecurity

import (
	"context"
	"fmt"

	guardduty "github.com/aws/aws-sdk-go-v2/service/guardduty"
	guarddutytype "github.com/aws/aws-sdk-go-v2/service/guardduty/types"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// GuardDutyCheck flags regions with no enabled GuardDuty detector. Only the
// first detector is inspected; GuardDuty allows one per region.
type GuardDutyCheck struct{ checkBase }

func (c GuardDutyCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	enabled, err := guardDutyEnabled(ctx, cl.GuardDuty)
	if err != nil {
		return nil, fmt.Errorf("guardduty status in %s: %w", region, err)
	}
	if enabled {
		return nil, nil
	}
	f := checks.NewFinding(c, models.SeverityMedium, "guardduty/"+region, region)
	f.ResourceType = "GUARDDUTY_DETECTOR"
	f.Description = fmt.Sprintf("GuardDuty is not enabled in %s.", region)
	f.Recommendation = "Enable GuardDuty in every active region."
	return []models.Finding{withAccount(f, ah.AccountID())}, nil
}

func guardDutyEnabled(ctx context.Context, client guardDutyAPIClient) (bool, error) {
	list, err := client.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
	if err != nil {
		return false, err
	}
	if len(list.DetectorIds) == 0 {
		return false, nil
	}
	det, err := client.GetDetector(ctx, &guardduty.GetDetectorInput{DetectorId: &list.DetectorIds[0]})
	if err != nil {
		return false, err
	}
	return det.Status == guarddutytype.DetectorStatusEnabled, nil
}
