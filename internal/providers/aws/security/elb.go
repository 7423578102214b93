package awssecurity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2svc "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/checks"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// PlainHTTPListenerCheck flags application load balancers with an HTTP
// listener that serves traffic instead of redirecting to HTTPS.
type PlainHTTPListenerCheck struct{ checkBase }

func (c PlainHTTPListenerCheck) Run(ctx context.Context, h credentials.Handle, scope checks.Scope) ([]models.Finding, error) {
	cl, ah, region, err := c.target(h, scope)
	if err != nil {
		return nil, err
	}

	var findings []models.Finding
	input := &elbv2svc.DescribeLoadBalancersInput{}
	for {
		out, err := cl.ELBv2.DescribeLoadBalancers(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describe load balancers in %s: %w", region, err)
		}
		for _, lb := range out.LoadBalancers {
			if lb.Type != elbv2types.LoadBalancerTypeEnumApplication {
				continue
			}
			arn := aws.ToString(lb.LoadBalancerArn)
			listeners, err := cl.ELBv2.DescribeListeners(ctx, &elbv2svc.DescribeListenersInput{LoadBalancerArn: lb.LoadBalancerArn})
			if err != nil {
				return nil, fmt.Errorf("describe listeners for %s: %w", arn, err)
			}
			for _, l := range listeners.Listeners {
				if l.Protocol != elbv2types.ProtocolEnumHttp || redirects(l.DefaultActions) {
					continue
				}
				f := checks.NewFinding(c, models.SeverityMedium, arn, region)
				f.ResourceType = "LOAD_BALANCER"
				f.Description = fmt.Sprintf("Load balancer %s serves plain HTTP on port %d.",
					aws.ToString(lb.LoadBalancerName), aws.ToInt32(l.Port))
				f.Recommendation = "Redirect HTTP listeners to HTTPS."
				findings = append(findings, withAccount(f, ah.AccountID()))
			}
		}
		if aws.ToString(out.NextMarker) == "" {
			break
		}
		input.Marker = out.NextMarker
	}
	return findings, nil
}

func redirects(actions []elbv2types.Action) bool {
	for _, a := range actions {
		if a.Type == elbv2types.ActionTypeEnumRedirect {
			return true
		}
	}
	return false
}
