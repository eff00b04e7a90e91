package provisioning

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// InstanceSpec represents the specification for creating an instance
type InstanceSpec struct {
	ImageID         string
	InstanceType    string
	KeyName         string
	SecurityGroupID string
	Name            string
}

// Instance is the handle for a provisioned instance. PublicDNS and PublicIP
// are only set once the instance has been confirmed running and are
// re-resolved on every start.
type Instance struct {
	ID           string
	Name         string
	DeploymentID string
	PublicDNS    string
	PublicIP     string
	Zone         string
	State        State
}

// EC2API is the subset of the EC2 client used by the controller. It also
// satisfies ec2.DescribeInstancesAPIClient so the SDK waiters can use it.
type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}
