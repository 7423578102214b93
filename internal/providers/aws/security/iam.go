package awssecurity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// minPasswordLength is the CIS benchmark minimum for IAM user passwords.
const minPasswordLength = 14

// ConsoleUserMFACheck flags IAM users that can sign in to the console but
// have no MFA device registered. API-only users (no login profile) are
// ignored.
type ConsoleUserMFACheck struct{ checkBase }

func (c ConsoleUserMFACheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}

	paginator := iamsvc.NewListUsersPaginator(cl.IAM, &iamsvc.ListUsersInput{})
	var findings []models.Finding
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list IAM users: %w", err)
		}
		for _, u := range page.Users {
			name := aws.ToString(u.UserName)
			hasProfile, err := userHasLoginProfile(ctx, cl.IAM, name)
			if err != nil {
				return nil, err
			}
			if !hasProfile {
				continue
			}
			mfa, err := cl.IAM.ListMFADevices(ctx, &iamsvc.ListMFADevicesInput{UserName: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("list MFA devices for %s: %w", name, err)
			}
			if len(mfa.MFADevices) > 0 {
				continue
			}
			f := checks.NewFinding(c, models.SeverityHigh, name, region)
			f.ResourceType = "IAM_USER"
			f.Description = fmt.Sprintf("IAM user %q has console access without MFA.", name)
			f.Recommendation = "Enable a virtual or hardware MFA device for every console user."
			findings = append(findings, withAccount(f, ah.AccountID()))
		}
	}
	return findings, nil
}

// userHasLoginProfile reports whether the user has a console password.
// GetLoginProfile returns NoSuchEntity when none exists.
func userHasLoginProfile(ctx context.Context, client iamAPIClient, userName string) (bool, error) {
	_, err := client.GetLoginProfile(ctx, &iamsvc.GetLoginProfileInput{UserName: aws.String(userName)})
	if err == nil {
		return true, nil
	}
	if apiErrorCode(err) == "NoSuchEntity" {
		return false, nil
	}
	return false, fmt.Errorf("get login profile for %s: %w", userName, err)
}

// PasswordPolicyCheck flags accounts with no IAM password policy or one that
// allows passwords shorter than minPasswordLength.
type PasswordPolicyCheck struct{ checkBase }

func (c PasswordPolicyCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}

	out, err := cl.IAM.GetAccountPasswordPolicy(ctx, &iamsvc.GetAccountPasswordPolicyInput{})
	var desc string
	switch {
	case err != nil && apiErrorCode(err) == "NoSuchEntity":
		desc = "No IAM account password policy is configured."
	case err != nil:
		return nil, fmt.Errorf("get account password policy: %w", err)
	case out.PasswordPolicy == nil:
		desc = "No IAM account password policy is configured."
	case aws.ToInt32(out.PasswordPolicy.MinimumPasswordLength) < minPasswordLength:
		desc = fmt.Sprintf("IAM password policy allows passwords of %d characters; at least %d are required.",
			aws.ToInt32(out.PasswordPolicy.MinimumPasswordLength), minPasswordLength)
	default:
		return nil, nil
	}

	f := checks.NewFinding(c, models.SeverityMedium, ah.AccountID(), region)
	f.ResourceType = "AWS_ACCOUNT"
	f.Description = desc
	f.Recommendation = fmt.Sprintf("Configure an account password policy requiring at least %d characters.", minPasswordLength)
	return []models.Finding{withAccount(f, ah.AccountID())}, nil
}
