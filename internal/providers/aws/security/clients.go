package awssecurity

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	cloudtrailsvc "github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cloudwatchsvc "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	configsvc "github.com/aws/aws-sdk-go-v2/service/configservice"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2svc "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	guardduty "github.com/aws/aws-sdk-go-v2/service/guardduty"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"
	rdssvc "github.com/aws/aws-sdk-go-v2/service/rds"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// s3APIClient covers bucket listing and location, policy status and default
// encryption.
type s3APIClient interface {
	ListBuckets(ctx context.Context, params *s3svc.ListBucketsInput, optFns ...func(*s3svc.Options)) (*s3svc.ListBucketsOutput, error)
	GetBucketLocation(ctx context.Context, params *s3svc.GetBucketLocationInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketLocationOutput, error)
	GetBucketPolicyStatus(ctx context.Context, params *s3svc.GetBucketPolicyStatusInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketPolicyStatusOutput, error)
	GetBucketEncryption(ctx context.Context, params *s3svc.GetBucketEncryptionInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketEncryptionOutput, error)
}

// ec2APIClient is the narrow EC2 interface for security groups and volumes.
type ec2APIClient interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2svc.DescribeSecurityGroupsInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeSecurityGroupsOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2svc.DescribeVolumesInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeVolumesOutput, error)
}

// iamAPIClient is the narrow IAM interface used for user and account-level
// security data. It embeds ListUsersAPIClient so the SDK paginator can be
// used directly.
type iamAPIClient interface {
	iamsvc.ListUsersAPIClient
	ListMFADevices(ctx context.Context, params *iamsvc.ListMFADevicesInput, optFns ...func(*iamsvc.Options)) (*iamsvc.ListMFADevicesOutput, error)
	GetLoginProfile(ctx context.Context, params *iamsvc.GetLoginProfileInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetLoginProfileOutput, error)
	GetAccountSummary(ctx context.Context, params *iamsvc.GetAccountSummaryInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetAccountSummaryOutput, error)
	GetAccountPasswordPolicy(ctx context.Context, params *iamsvc.GetAccountPasswordPolicyInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetAccountPasswordPolicyOutput, error)
}

type rdsAPIClient interface {
	DescribeDBInstances(ctx context.Context, params *rdssvc.DescribeDBInstancesInput, optFns ...func(*rdssvc.Options)) (*rdssvc.DescribeDBInstancesOutput, error)
}

type elbv2APIClient interface {
	DescribeLoadBalancers(ctx context.Context, params *elbv2svc.DescribeLoadBalancersInput, optFns ...func(*elbv2svc.Options)) (*elbv2svc.DescribeLoadBalancersOutput, error)
	DescribeListeners(ctx context.Context, params *elbv2svc.DescribeListenersInput, optFns ...func(*elbv2svc.Options)) (*elbv2svc.DescribeListenersOutput, error)
}

type cloudTrailAPIClient interface {
	DescribeTrails(ctx context.Context, params *cloudtrailsvc.DescribeTrailsInput, optFns ...func(*cloudtrailsvc.Options)) (*cloudtrailsvc.DescribeTrailsOutput, error)
}

type cloudWatchAPIClient interface {
	DescribeAlarms(ctx context.Context, params *cloudwatchsvc.DescribeAlarmsInput, optFns ...func(*cloudwatchsvc.Options)) (*cloudwatchsvc.DescribeAlarmsOutput, error)
}

// guardDutyAPIClient lists detectors and reads their status.
type guardDutyAPIClient interface {
	ListDetectors(ctx context.Context, params *guardduty.ListDetectorsInput, optFns ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error)
	GetDetector(ctx context.Context, params *guardduty.GetDetectorInput, optFns ...func(*guardduty.Options)) (*guardduty.GetDetectorOutput, error)
}

type awsConfigAPIClient interface {
	DescribeConfigurationRecorderStatus(ctx context.Context, params *configsvc.DescribeConfigurationRecorderStatusInput, optFns ...func(*configsvc.Options)) (*configsvc.DescribeConfigurationRecorderStatusOutput, error)
}

// secClients bundles the AWS service clients a check may need. Each check
// only touches the one or two fields it cares about.
type secClients struct {
	S3         s3APIClient
	EC2        ec2APIClient
	IAM        iamAPIClient
	RDS        rdsAPIClient
	ELBv2      elbv2APIClient
	CloudTrail cloudTrailAPIClient
	CloudWatch cloudWatchAPIClient
	GuardDuty  guardDutyAPIClient
	Config     awsConfigAPIClient
}

// secClientFactory creates secClients from a region-scoped AWS config.
// Injection point: tests replace this with a function returning fake clients.
type secClientFactory func(cfg aws.Config) *secClients

// newDefaultSecClients creates production AWS SDK clients from the given config.
func newDefaultSecClients(cfg aws.Config) *secClients {
	return &secClients{
		S3:         s3svc.NewFromConfig(cfg),
		EC2:        ec2svc.NewFromConfig(cfg),
		IAM:        iamsvc.NewFromConfig(cfg),
		RDS:        rdssvc.NewFromConfig(cfg),
		ELBv2:      elbv2svc.NewFromConfig(cfg),
		CloudTrail: cloudtrailsvc.NewFromConfig(cfg),
		CloudWatch: cloudwatchsvc.NewFromConfig(cfg),
		GuardDuty:  guardduty.NewFromConfig(cfg),
		Config:     configsvc.NewFromConfig(cfg),
	}
}

// apiErrorCode returns the service error code carried by err, or "".
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
