package awssecurity

import (
	"context"
	"fmt"

	configsvc "github.com/aws/aws-sdk-go-v2/service/configservice"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// ConfigRecorderCheck flags regions where no AWS Config recorder is recording.
type ConfigRecorderCheck struct{ checkBase }

func (c ConfigRecorderCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	out, err := cl.Config.DescribeConfigurationRecorderStatus(ctx, &configsvc.DescribeConfigurationRecorderStatusInput{})
	if err != nil {
		return nil, fmt.Errorf("describe config recorder status in %s: %w", region, err)
	}
	for _, s := range out.ConfigurationRecordersStatus {
		if s.Recording {
			return nil, nil
		}
	}
	f := checks.NewFinding(c, models.SeverityMedium, "config-recorder/"+region, region)
	f.ResourceType = "AWS_CONFIG"
	f.Description = fmt.Sprintf("AWS Config is not recording in %s.", region)
	f.Recommendation = "Enable an AWS Config recorder covering all resource types."
	return []models.Finding{withAccount(f, ah.AccountID())}, nil
}
