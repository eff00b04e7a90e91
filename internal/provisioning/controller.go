package provisioning

import (
	"context"
	"fmt"
	"time"

	"ecrdeploy/internal/control"
	"ecrdeploy/internal/faults"
	"ecrdeploy/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dialer opens a remote session to a running instance.
type Dialer func(ctx context.Context, instance Instance) (control.Session, error)

// Options tunes the controller's waits.
type Options struct {
	// RunningTimeout and StoppedTimeout bound the SDK waiters used after
	// create/start and stop respectively.
	RunningTimeout time.Duration
	StoppedTimeout time.Duration
}

// Controller drives the lifecycle of EC2 instances and owns at most one
// live remote session. It is not safe for concurrent use.
type Controller struct {
	client  EC2API
	dial    Dialer
	options Options
	session control.Session
}

// NewController creates a new lifecycle controller
func NewController(client EC2API, dial Dialer, options Options) *Controller {
	return &Controller{
		client:  client,
		dial:    dial,
		options: options,
	}
}

// Create launches exactly one instance, waits until EC2 reports it running
// and resolves its public addresses.
func (c *Controller) Create(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	deploymentID := uuid.NewString()
	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		KeyName:          aws.String(spec.KeyName),
		SecurityGroupIds: []string{spec.SecurityGroupID},
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Name)},
					{Key: aws.String("DeploymentId"), Value: aws.String(deploymentID)},
				},
			},
		},
	}

	logging.Logger().Info("Creating EC2 instance",
		zap.String("image_id", spec.ImageID),
		zap.String("instance_type", spec.InstanceType),
		zap.String("name", spec.Name),
		zap.String("deployment_id", deploymentID))

	output, err := c.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to run instance: %w", faults.ErrProvisioning, err)
	}
	if len(output.Instances) == 0 || output.Instances[0].InstanceId == nil {
		return nil, fmt.Errorf("%w: provider returned no instance", faults.ErrProvisioning)
	}
	instanceID := aws.ToString(output.Instances[0].InstanceId)

	logging.Logger().Info("Instance created, waiting for running state",
		zap.String("instance_id", instanceID),
		zap.Duration("timeout", c.options.RunningTimeout))

	if err := c.waitRunning(ctx, instanceID); err != nil {
		return nil, fmt.Errorf("%w: instance %s: %w", faults.ErrProvisioning, instanceID, err)
	}

	instance, err := c.describe(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrProvisioning, err)
	}
	instance.Name = spec.Name
	instance.DeploymentID = deploymentID

	logging.Logger().Info("Instance is running",
		zap.String("instance_id", instance.ID),
		zap.String("public_dns", instance.PublicDNS),
		zap.String("public_ip", instance.PublicIP),
		zap.String("zone", instance.Zone))

	return instance, nil
}

// Start starts a stopped instance, waits until it is running, re-resolves
// its addresses and opens a new remote session to it.
func (c *Controller) Start(ctx context.Context, instanceID string) (*Instance, error) {
	current, err := c.currentState(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrStateTransition, err)
	}
	if err := checkTransition("start", current, StatePending); err != nil {
		return nil, fmt.Errorf("%w: instance %s: %w", faults.ErrStateTransition, instanceID, err)
	}

	logging.Logger().Info("Starting EC2 instance", zap.String("instance_id", instanceID))

	if _, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to start instance %s: %w", faults.ErrStateTransition, instanceID, err)
	}

	if err := c.waitRunning(ctx, instanceID); err != nil {
		return nil, fmt.Errorf("%w: instance %s: %w", faults.ErrStateTransition, instanceID, err)
	}

	instance, err := c.describe(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrStateTransition, err)
	}

	logging.Logger().Info("Instance is running",
		zap.String("instance_id", instance.ID),
		zap.String("public_dns", instance.PublicDNS),
		zap.String("public_ip", instance.PublicIP))

	if _, err := c.Connect(ctx, *instance); err != nil {
		return instance, err
	}
	return instance, nil
}

// Stop closes the open session, if any, then stops the instance and waits
// until EC2 reports it stopped. A failed close is logged and ignored.
func (c *Controller) Stop(ctx context.Context, instanceID string) error {
	c.CloseSession()

	current, err := c.currentState(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("%w: %w", faults.ErrStateTransition, err)
	}
	if err := checkTransition("stop", current, StateStopping); err != nil {
		return fmt.Errorf("%w: instance %s: %w", faults.ErrStateTransition, instanceID, err)
	}

	logging.Logger().Info("Stopping EC2 instance", zap.String("instance_id", instanceID))

	if _, err := c.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	}); err != nil {
		return fmt.Errorf("%w: failed to stop instance %s: %w", faults.ErrStateTransition, instanceID, err)
	}

	waiter := ec2.NewInstanceStoppedWaiter(c.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, c.options.StoppedTimeout); err != nil {
		return fmt.Errorf("%w: instance %s did not stop: %w", faults.ErrStateTransition, instanceID, err)
	}

	logging.Logger().Info("Instance stopped", zap.String("instance_id", instanceID))
	return nil
}

// Resolve returns the public DNS name and IP of an instance. It fails with
// ErrLookup when the instance has no public address, e.g. when stopped.
func (c *Controller) Resolve(ctx context.Context, instanceID string) (string, string, error) {
	instance, err := c.describe(ctx, instanceID)
	if err != nil {
		return "", "", err
	}
	return instance.PublicDNS, instance.PublicIP, nil
}

// Connect opens a session to a running instance, closing the previous
// session first so only one is ever live.
func (c *Controller) Connect(ctx context.Context, instance Instance) (control.Session, error) {
	if instance.PublicDNS == "" {
		return nil, fmt.Errorf("%w: instance %s has no public address", faults.ErrConnection, instance.ID)
	}
	c.CloseSession()

	session, err := c.dial(ctx, instance)
	if err != nil {
		return nil, err
	}
	c.session = session
	return session, nil
}

// Session returns the live session, or nil.
func (c *Controller) Session() control.Session {
	return c.session
}

// CloseSession closes the live session, if any. Errors are logged only.
func (c *Controller) CloseSession() {
	if c.session == nil {
		return
	}
	session := c.session
	c.session = nil
	if err := session.Close(); err != nil {
		logging.Logger().Warn("failed to close remote session",
			zap.String("host", session.Host()),
			zap.Error(err))
	}
}

func (c *Controller) waitRunning(ctx context.Context, instanceID string) error {
	waiter := ec2.NewInstanceRunningWaiter(c.client)
	return waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, c.options.RunningTimeout)
}

func (c *Controller) currentState(ctx context.Context, instanceID string) (State, error) {
	inst, err := c.lookup(ctx, instanceID)
	if err != nil {
		return StateUnknown, err
	}
	return stateFromEC2(inst.State), nil
}

func (c *Controller) lookup(ctx context.Context, instanceID string) (*types.Instance, error) {
	desc, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		logging.Logger().Debug("DescribeInstances failed",
			zap.String("instance_id", instanceID),
			zap.String("aws_error_code", ErrorCode(err)))
		return nil, fmt.Errorf("%w: failed to describe instance %s: %w", faults.ErrLookup, instanceID, err)
	}
	if len(desc.Reservations) == 0 || len(desc.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("%w: instance %s not found", faults.ErrLookup, instanceID)
	}
	return &desc.Reservations[0].Instances[0], nil
}

// describe resolves an instance into a handle with public addresses. When
// the VPC assigns no DNS hostname the public IP doubles as the DNS name.
func (c *Controller) describe(ctx context.Context, instanceID string) (*Instance, error) {
	inst, err := c.lookup(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	ip := aws.ToString(inst.PublicIpAddress)
	if ip == "" {
		return nil, fmt.Errorf("%w: instance %s (state %s) has no public address",
			faults.ErrLookup, instanceID, stateFromEC2(inst.State))
	}
	dns := aws.ToString(inst.PublicDnsName)
	if dns == "" {
		dns = ip
	}

	instance := &Instance{
		ID:        aws.ToString(inst.InstanceId),
		PublicDNS: dns,
		PublicIP:  ip,
		State:     stateFromEC2(inst.State),
	}
	if inst.Placement != nil {
		instance.Zone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	for _, tag := range inst.Tags {
		switch aws.ToString(tag.Key) {
		case "Name":
			instance.Name = aws.ToString(tag.Value)
		case "DeploymentId":
			instance.DeploymentID = aws.ToString(tag.Value)
		}
	}
	return instance, nil
}
