package azuresecurity

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/providers/azure/common"
)

type storageAccountsAPI interface {
	ListAccounts(ctx context.Context) ([]*armstorage.Account, error)
}

type securityGroupsAPI interface {
	ListSecurityGroups(ctx context.Context) ([]*armnetwork.SecurityGroup, error)
}

type azureClients struct {
	StorageAccounts storageAccountsAPI
	SecurityGroups  securityGroupsAPI
}

// clientFactory builds clients for a handle. Tests return fakes.
type clientFactory func(h *common.Handle) (*azureClients, error)

func newDefaultClients(h *common.Handle) (*azureClients, error) {
	accounts, err := armstorage.NewAccountsClient(h.AccountID(), h.Credential(), nil)
	if err != nil {
		return nil, err
	}
	groups, err := armnetwork.NewSecurityGroupsClient(h.AccountID(), h.Credential(), nil)
	if err != nil {
		return nil, err
	}
	return &azureClients{
		StorageAccounts: storageAdapter{accounts},
		SecurityGroups:  networkAdapter{groups},
	}, nil
}

// ── pager adapters ───────────────────────────────────────────────────────────

type storageAdapter struct{ client *armstorage.AccountsClient }

func (a storageAdapter) ListAccounts(ctx context.Context) ([]*armstorage.Account, error) {
	var out []*armstorage.Account
	pager := a.client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

type networkAdapter struct {
	client *armnetwork.SecurityGroupsClient
}

func (a networkAdapter) ListSecurityGroups(ctx context.Context) ([]*armnetwork.SecurityGroup, error) {
	var out []*armnetwork.SecurityGroup
	pager := a.client.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}
