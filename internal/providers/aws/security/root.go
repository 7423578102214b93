package awssecurity

import (
	"context"
	"fmt"

	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// rootSummary reads the IAM account summary. AccountAccessKeysPresent is the
// number of root access keys; AccountMFAEnabled is 1 when root has MFA.
func rootSummary(ctx context.Context, client iamAPIClient) (map[string]int32, error) {
	out, err := client.GetAccountSummary(ctx, &iamsvc.GetAccountSummaryInput{})
	if err != nil {
		return nil, fmt.Errorf("get IAM account summary: %w", err)
	}
	return out.SummaryMap, nil
}

// RootAccessKeysCheck flags a root user that still owns access keys.
type RootAccessKeysCheck struct{ checkBase }

func (c RootAccessKeysCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	summary, err := rootSummary(ctx, cl.IAM)
	if err != nil {
		return nil, err
	}
	if summary["AccountAccessKeysPresent"] == 0 {
		return nil, nil
	}
	f := checks.NewFinding(c, models.SeverityCritical, "root", region)
	f.ResourceType = "ROOT_ACCOUNT"
	f.Description = "The root user has active access keys."
	f.Recommendation = "Delete root access keys and use IAM roles or users for programmatic access."
	return []models.Finding{withAccount(f, ah.AccountID())}, nil
}

// RootMFACheck flags a root user without MFA.
type RootMFACheck struct{ checkBase }

func (c RootMFACheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}
	summary, err := rootSummary(ctx, cl.IAM)
	if err != nil {
		return nil, err
	}
	if summary["AccountMFAEnabled"] > 0 {
		return nil, nil
	}
	f := checks.NewFinding(c, models.SeverityCritical, "root", region)
	f.ResourceType = "ROOT_ACCOUNT"
	f.Description = "MFA is not enabled on the root user."
	f.Recommendation = "Enable a hardware or virtual MFA device on the root user."
	return []models.Finding{withAccount(f, ah.AccountID())}, nil
}
