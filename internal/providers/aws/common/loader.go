package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	creds "github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// defaultRegion is used when the secret carries no region so that SDK
// clients can be constructed.
const defaultRegion = "us-east-1"

// DefaultAWSClientProvider is the production credentials.Provider for AWS.
// It builds SDK configuration from the decrypted secret only; shared config
// files and environment credentials of the host are never consulted.
//
// Inject a custom ClientFactory via NewDefaultAWSClientProviderWithFactory to
// replace real SDK clients with mocks in unit tests.
type DefaultAWSClientProvider struct {
	factory ClientFactory
}

// NewDefaultAWSClientProvider returns a provider backed by the real AWS SDK.
func NewDefaultAWSClientProvider() *DefaultAWSClientProvider {
	return &DefaultAWSClientProvider{factory: NewClientSet}
}

// NewDefaultAWSClientProviderWithFactory returns a provider that uses f to
// create its ClientSet. Pass a mock factory in tests.
func NewDefaultAWSClientProviderWithFactory(f ClientFactory) *DefaultAWSClientProvider {
	return &DefaultAWSClientProvider{factory: f}
}

// Name implements credentials.Provider.
func (p *DefaultAWSClientProvider) Name() models.Provider { return models.ProviderAWS }

// CheckSecret implements credentials.Provider.
func (p *DefaultAWSClientProvider) CheckSecret(secret creds.Secret) error {
	_, err := parseSecret(secret)
	return err
}

// Validate resolves the caller identity with STS. GetCallerIdentity needs no
// IAM permission and never mutates account state.
func (p *DefaultAWSClientProvider) Validate(ctx context.Context, secret creds.Secret) error {
	cfg, err := p.loadConfig(ctx, secret)
	if err != nil {
		return err
	}
	_, err = resolveAccountID(ctx, p.factory(cfg).STS)
	return err
}

// Authenticate loads the SDK config, resolves the account ID and discovers
// the opted-in regions. Region discovery failure is non-fatal: the audit
// falls back to the home region only.
func (p *DefaultAWSClientProvider) Authenticate(ctx context.Context, secret creds.Secret) (creds.Handle, error) {
	cfg, err := p.loadConfig(ctx, secret)
	if err != nil {
		return nil, err
	}
	clients := p.factory(cfg)

	accountID, err := resolveAccountID(ctx, clients.STS)
	if err != nil {
		return nil, err
	}

	regions, err := getActiveRegions(ctx, clients.EC2)
	if err != nil || len(regions) == 0 {
		regions = []string{cfg.Region}
	}
	return NewHandle(accountID, cfg.Region, regions, cfg), nil
}

// loadConfig parses the secret and returns an aws.Config whose credentials
// come exclusively from it. When RoleARN is set the static keys are used to
// assume that role and the returned config carries the cached role
// credentials.
func (p *DefaultAWSClientProvider) loadConfig(ctx context.Context, raw creds.Secret) (aws.Config, error) {
	secret, err := parseSecret(raw)
	if err != nil {
		return aws.Config{}, err
	}

	region := secret.Region
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			secret.AccessKeyID, secret.SecretAccessKey, secret.SessionToken,
		)),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: load AWS config: %w", creds.ErrMalformedSecret, err)
	}

	if secret.RoleARN != "" {
		assume := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), secret.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "cloudaudit"
				if secret.ExternalID != "" {
					o.ExternalID = aws.String(secret.ExternalID)
				}
			})
		cfg.Credentials = aws.NewCredentialsCache(assume)
	}
	return cfg, nil
}

// parseSecret decodes and validates the AWS secret JSON.
func parseSecret(raw creds.Secret) (Secret, error) {
	var s Secret
	if err := json.Unmarshal(raw, &s); err != nil {
		return Secret{}, fmt.Errorf("%w: decode AWS secret: %w", creds.ErrMalformedSecret, err)
	}
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return Secret{}, fmt.Errorf("%w: AWS secret requires access_key_id and secret_access_key", creds.ErrMalformedSecret)
	}
	return s, nil
}

// resolveAccountID calls STS GetCallerIdentity to retrieve the numeric AWS
// account ID for the loaded credentials.
func resolveAccountID(ctx context.Context, stsClient STSClient) (string, error) {
	out, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", classify(fmt.Errorf("STS GetCallerIdentity: %w", err))
	}
	if out.Account == nil {
		return "", fmt.Errorf("%w: STS GetCallerIdentity returned nil account", creds.ErrAuthRejected)
	}
	return aws.ToString(out.Account), nil
}

// getActiveRegions returns all regions the account has opted into.
func getActiveRegions(ctx context.Context, client EC2RegionClient) ([]string, error) {
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}
	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if r.RegionName != nil {
			regions = append(regions, *r.RegionName)
		}
	}
	return regions, nil
}

// authErrorCodes are AWS API error codes that mean the credentials
// themselves are bad rather than the call failing transiently.
var authErrorCodes = map[string]struct{}{
	"InvalidClientTokenId":        {},
	"SignatureDoesNotMatch":       {},
	"AccessDenied":                {},
	"ExpiredToken":                {},
	"UnrecognizedClientException": {},
	"AuthFailure":                 {},
}

// classify wraps err with ErrAuthRejected when AWS refused the credentials
// and with ErrTransient for everything else (throttling, network).
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := authErrorCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %w", creds.ErrAuthRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", creds.ErrTransient, err)
}
