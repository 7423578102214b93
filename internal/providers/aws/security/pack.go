// Package awssecurity implements the AWS check units. Every check derives
// region-scoped SDK clients from the authenticated common.Handle through a
// secClientFactory, so tests can substitute fakes for each service.
package awssecurity

import "github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"

// New returns the AWS checks wired to real SDK clients.
func New() []checks.Check {
	return NewWithFactory(newDefaultSecClients)
}

// NewWithFactory returns the AWS checks using f to build service clients.
func NewWithFactory(f secClientFactory) []checks.Check {
	b := func(id, name string, phase int, global bool) checkBase {
		return checkBase{id: id, name: name, phase: phase, global: global, factory: f}
	}
	return []checks.Check{
		ConsoleUserMFACheck{b("AWS-IAM-001", "IAM console user without MFA", 1, true)},
		RootAccessKeysCheck{b("AWS-ROOT-001", "Root account access keys present", 2, true)},
		RootMFACheck{b("AWS-ROOT-002", "Root account MFA disabled", 2, true)},
		PasswordPolicyCheck{b("AWS-IAM-002", "Weak IAM password policy", 3, true)},
		S3PublicBucketCheck{b("AWS-S3-001", "Public S3 bucket", 4, true)},
		OpenPortCheck{checkBase: b("AWS-NET-001", "Security group open to SSH", 5, false), port: 22, service: "SSH"},
		OpenPortCheck{checkBase: b("AWS-NET-002", "Security group open to RDP", 5, false), port: 3389, service: "RDP"},
		RDSPublicAccessCheck{b("AWS-RDS-001", "Publicly accessible RDS instance", 7, false)},
		S3EncryptionCheck{b("AWS-S3-002", "S3 bucket without default encryption", 8, true)},
		EBSEncryptionCheck{b("AWS-EBS-001", "Unencrypted EBS volume", 8, false)},
		RDSEncryptionCheck{b("AWS-RDS-002", "Unencrypted RDS storage", 8, false)},
		PlainHTTPListenerCheck{b("AWS-ELB-001", "Load balancer serving plain HTTP", 9, false)},
		CloudTrailCheck{b("AWS-LOG-001", "No multi-region CloudTrail", 10, true)},
		AlarmsCheck{b("AWS-MON-001", "No CloudWatch alarms", 11, false)},
		GuardDutyCheck{b("AWS-THR-001", "GuardDuty disabled", 12, false)},
		ConfigRecorderCheck{b("AWS-CFG-001", "AWS Config not recording", 13, false)},
	}
}
