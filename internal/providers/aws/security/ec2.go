package awssecurity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// OpenPortCheck flags security groups that allow inbound traffic on a single
// administrative port from the whole internet (0.0.0.0/0 or ::/0). One
// instance is registered per port (SSH and RDP).
type OpenPortCheck struct {
	checkBase
	port    int32
	service string
}

func (c OpenPortCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}

	var findings []models.Finding
	input := &ec2svc.DescribeSecurityGroupsInput{}
	for {
		out, err := cl.EC2.DescribeSecurityGroups(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describe security groups in %s: %w", region, err)
		}
		for _, sg := range out.SecurityGroups {
			cidr, open := openToInternet(sg.IpPermissions, c.port)
			if !open {
				continue
			}
			groupID := aws.ToString(sg.GroupId)
			f := checks.NewFinding(c, models.SeverityHigh, groupID, region)
			f.ResourceType = "SECURITY_GROUP"
			f.Description = fmt.Sprintf("Security group %s allows %s (port %d) from %s.", groupID, c.service, c.port, cidr)
			f.Recommendation = fmt.Sprintf("Restrict port %d to known source ranges or use Session Manager.", c.port)
			f = withAccount(f, ah.AccountID())
			f.Metadata["cidr"] = cidr
			f.Metadata["port"] = c.port
			findings = append(findings, f)
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return findings, nil
}

// openToInternet reports whether any permission admits port from an
// unrestricted CIDR. Protocol "-1" covers all ports.
func openToInternet(perms []ec2types.IpPermission, port int32) (string, bool) {
	for _, p := range perms {
		if !coversPort(p, port) {
			continue
		}
		for _, r := range p.IpRanges {
			if aws.ToString(r.CidrIp) == "0.0.0.0/0" {
				return "0.0.0.0/0", true
			}
		}
		for _, r := range p.Ipv6Ranges {
			if aws.ToString(r.CidrIpv6) == "::/0" {
				return "::/0", true
			}
		}
	}
	return "", false
}

func coversPort(p ec2types.IpPermission, port int32) bool {
	if aws.ToString(p.IpProtocol) == "-1" {
		return true
	}
	if p.FromPort == nil || p.ToPort == nil {
		return false
	}
	return aws.ToInt32(p.FromPort) <= port && port <= aws.ToInt32(p.ToPort)
}

// EBSEncryptionCheck flags EBS volumes that are not encrypted.
type EBSEncryptionCheck struct{ checkBase }

func (c EBSEncryptionCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}

	var findings []models.Finding
	input := &ec2svc.DescribeVolumesInput{}
	for {
		out, err := cl.EC2.DescribeVolumes(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describe volumes in %s: %w", region, err)
		}
		for _, v := range out.Volumes {
			if aws.ToBool(v.Encrypted) {
				continue
			}
			id := aws.ToString(v.VolumeId)
			f := checks.NewFinding(c, models.SeverityMedium, id, region)
			f.ResourceType = "EBS_VOLUME"
			f.Description = fmt.Sprintf("EBS volume %s is not encrypted.", id)
			f.Recommendation = "Enable EBS encryption by default and migrate data to an encrypted volume."
			findings = append(findings, withAccount(f, ah.AccountID()))
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return findings, nil
}
