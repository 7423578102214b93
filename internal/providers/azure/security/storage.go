package azuresecurity

import (
	"context"
	"fmt"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// storageRule decides whether one storage account violates a check and
// returns the description when it does.
type storageRule func(a *armstorage.Account) (string, bool)

// StorageAccountCheck evaluates a storageRule against every storage account
// in the subscription.
type StorageAccountCheck struct {
	checkBase
	severity       models.Severity
	recommendation string
	rule           storageRule
}

func (c StorageAccountCheck) Run(ctx context.Context, h credentials.Handle, _ checks.Scope) ([]models.Finding, error) {
	cl, sub, err := c.target(h)
	if err != nil {
		return nil, err
	}
	accounts, err := cl.StorageAccounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list storage accounts in %s: %w", sub, err)
	}

	var findings []models.Finding
	for _, a := range accounts {
		if a == nil || a.Properties == nil {
			continue
		}
		desc, bad := c.rule(a)
		if !bad {
			continue
		}
		f := newFinding(c, c.severity, sub, to.String(a.ID), to.String(a.Location), "STORAGE_ACCOUNT")
		f.Description = desc
		f.Recommendation = c.recommendation
		findings = append(findings, f)
	}
	return findings, nil
}

func blobPublicAccessAllowed(a *armstorage.Account) (string, bool) {
	if !to.Bool(a.Properties.AllowBlobPublicAccess) {
		return "", false
	}
	return fmt.Sprintf("Storage account %s allows anonymous blob access.", to.String(a.Name)), true
}

func httpsOnlyDisabled(a *armstorage.Account) (string, bool) {
	if a.Properties.EnableHTTPSTrafficOnly == nil || to.Bool(a.Properties.EnableHTTPSTrafficOnly) {
		return "", false
	}
	return fmt.Sprintf("Storage account %s accepts plain HTTP traffic.", to.String(a.Name)), true
}

// weakTLS treats an unset minimum version as TLS 1.0, the service default
// for older accounts.
func weakTLS(a *armstorage.Account) (string, bool) {
	v := armstorage.MinimumTLSVersionTLS10
	if a.Properties.MinimumTLSVersion != nil {
		v = *a.Properties.MinimumTLSVersion
	}
	if v == armstorage.MinimumTLSVersionTLS12 || v == armstorage.MinimumTLSVersion("TLS1_3") {
		return "", false
	}
	return fmt.Sprintf("Storage account %s accepts %s.", to.String(a.Name), v), true
}
