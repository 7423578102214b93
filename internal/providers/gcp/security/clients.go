package gcpsecurity

import (
	"context"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/compute/v1"
	iam "google.golang.org/api/iam/v1"
	"google.golang.org/api/storage/v1"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/gcp/common"
)

// projectsAPI reads the project-level IAM policy.
type projectsAPI interface {
	GetIamPolicy(ctx context.Context, projectID string) (*cloudresourcemanager.Policy, error)
}

type bucketsAPI interface {
	ListBuckets(ctx context.Context, projectID string) ([]*storage.Bucket, error)
	GetBucketIamPolicy(ctx context.Context, bucket string) (*storage.Policy, error)
}

type firewallsAPI interface {
	ListFirewalls(ctx context.Context, projectID string) ([]*compute.Firewall, error)
}

type serviceAccountsAPI interface {
	ListServiceAccounts(ctx context.Context, projectID string) ([]*iam.ServiceAccount, error)
	ListUserManagedKeys(ctx context.Context, accountName string) ([]*iam.ServiceAccountKey, error)
}

// gcpClients bundles the narrow API views the GCP checks use.
type gcpClients struct {
	Projects        projectsAPI
	Buckets         bucketsAPI
	Firewalls       firewallsAPI
	ServiceAccounts serviceAccountsAPI
}

// clientFactory builds clients for a handle. Tests return fakes.
type clientFactory func(ctx context.Context, h *common.Handle) (*gcpClients, error)

// newDefaultClients builds the Google API services. Construction is local
// (no network), so building per check invocation is acceptable.
func newDefaultClients(ctx context.Context, h *common.Handle) (*gcpClients, error) {
	opts := h.ClientOptions()
	crm, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	gcs, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	gce, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	iamSvc, err := iam.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &gcpClients{
		Projects:        crmAdapter{crm},
		Buckets:         storageAdapter{gcs},
		Firewalls:       computeAdapter{gce},
		ServiceAccounts: iamAdapter{iamSvc},
	}, nil
}

// ── adapters over the generated API services ─────────────────────────────────

type crmAdapter struct{ svc *cloudresourcemanager.Service }

func (a crmAdapter) GetIamPolicy(ctx context.Context, projectID string) (*cloudresourcemanager.Policy, error) {
	return a.svc.Projects.GetIamPolicy(projectID, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
}

type storageAdapter struct{ svc *storage.Service }

func (a storageAdapter) ListBuckets(ctx context.Context, projectID string) ([]*storage.Bucket, error) {
	var out []*storage.Bucket
	err := a.svc.Buckets.List(projectID).Pages(ctx, func(page *storage.Buckets) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (a storageAdapter) GetBucketIamPolicy(ctx context.Context, bucket string) (*storage.Policy, error) {
	return a.svc.Buckets.GetIamPolicy(bucket).Context(ctx).Do()
}

type computeAdapter struct{ svc *compute.Service }

func (a computeAdapter) ListFirewalls(ctx context.Context, projectID string) ([]*compute.Firewall, error) {
	var out []*compute.Firewall
	err := a.svc.Firewalls.List(projectID).Pages(ctx, func(page *compute.FirewallList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

type iamAdapter struct{ svc *iam.Service }

func (a iamAdapter) ListServiceAccounts(ctx context.Context, projectID string) ([]*iam.ServiceAccount, error) {
	var out []*iam.ServiceAccount
	err := a.svc.Projects.ServiceAccounts.List("projects/"+projectID).Pages(ctx, func(page *iam.ListServiceAccountsResponse) error {
		out = append(out, page.Accounts...)
		return nil
	})
	return out, err
}

func (a iamAdapter) ListUserManagedKeys(ctx context.Context, accountName string) ([]*iam.ServiceAccountKey, error) {
	resp, err := a.svc.Projects.ServiceAccounts.Keys.List(accountName).KeyTypes("USER_MANAGED").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}
