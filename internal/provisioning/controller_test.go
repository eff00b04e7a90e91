package provisioning

import (
	"context"
	"errors"
	"os"
	"time"

	"ecrdeploy/internal/control"
	"ecrdeploy/internal/faults"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeEC2 simulates a single instance. Public addresses are only reported
// while the instance is running, like EC2 does.
type fakeEC2 struct {
	calls    *[]string
	state    types.InstanceStateName
	dns      string
	ip       string
	stuck    bool
	runErr   error
	runInput *ec2.RunInstancesInput
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	*f.calls = append(*f.calls, "run")
	f.runInput = params
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.state = types.InstanceStateNameRunning
	if f.stuck {
		f.state = types.InstanceStateNamePending
	}
	return &ec2.RunInstancesOutput{
		Instances: []types.Instance{{InstanceId: aws.String("i-0abc")}},
	}, nil
}

func (f *fakeEC2) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	*f.calls = append(*f.calls, "start")
	f.state = types.InstanceStateNameRunning
	if f.stuck {
		f.state = types.InstanceStateNamePending
	}
	f.dns = "ec2-54-0-0-2.compute-1.amazonaws.com"
	f.ip = "54.0.0.2"
	return &ec2.StartInstancesOutput{}, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	*f.calls = append(*f.calls, "stop")
	f.state = types.InstanceStateNameStopped
	if f.stuck {
		f.state = types.InstanceStateNameStopping
	}
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	*f.calls = append(*f.calls, "describe")
	inst := types.Instance{
		InstanceId: aws.String("i-0abc"),
		State:      &types.InstanceState{Name: f.state},
		Placement:  &types.Placement{AvailabilityZone: aws.String("us-east-1a")},
	}
	if f.state == types.InstanceStateNameRunning {
		inst.PublicDnsName = aws.String(f.dns)
		inst.PublicIpAddress = aws.String(f.ip)
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: []types.Instance{inst}}},
	}, nil
}

// fakeSession records its close in the shared call log
type fakeSession struct {
	calls    *[]string
	host     string
	closeErr error
}

func (s *fakeSession) Run(ctx context.Context, cmd control.Command) (*control.Result, error) {
	return &control.Result{Command: cmd.Label()}, nil
}

func (s *fakeSession) WriteFile(remotePath string, data []byte, mode os.FileMode) error {
	return nil
}

func (s *fakeSession) Host() string { return s.host }

func (s *fakeSession) Close() error {
	*s.calls = append(*s.calls, "close-session")
	return s.closeErr
}

func indexOf(calls []string, name string) int {
	for i, c := range calls {
		if c == name {
			return i
		}
	}
	return -1
}

var _ = Describe("Controller", func() {
	var (
		ctx        context.Context
		calls      []string
		client     *fakeEC2
		dialed     []string
		controller *Controller
		spec       InstanceSpec
	)

	BeforeEach(func() {
		ctx = context.Background()
		calls = nil
		dialed = nil
		client = &fakeEC2{
			calls: &calls,
			dns:   "ec2-54-0-0-1.compute-1.amazonaws.com",
			ip:    "54.0.0.1",
		}
		dial := func(ctx context.Context, instance Instance) (control.Session, error) {
			dialed = append(dialed, instance.PublicDNS)
			return &fakeSession{calls: &calls, host: instance.PublicDNS}, nil
		}
		controller = NewController(client, dial, Options{
			RunningTimeout: time.Minute,
			StoppedTimeout: time.Minute,
		})
		spec = InstanceSpec{
			ImageID:         "ami-0123",
			InstanceType:    "t2.micro",
			KeyName:         "deploy-key",
			SecurityGroupID: "sg-0abc",
			Name:            "ecr-image-puller",
		}
	})

	Context("Create", func() {
		It("should request exactly one tagged instance and resolve its addresses", func() {
			instance, err := controller.Create(ctx, spec)
			Expect(err).NotTo(HaveOccurred())

			input := client.runInput
			Expect(aws.ToInt32(input.MinCount)).To(BeEquivalentTo(1))
			Expect(aws.ToInt32(input.MaxCount)).To(BeEquivalentTo(1))
			Expect(input.SecurityGroupIds).To(Equal([]string{"sg-0abc"}))
			Expect(aws.ToString(input.KeyName)).To(Equal("deploy-key"))
			Expect(input.TagSpecifications).To(HaveLen(1))
			Expect(input.TagSpecifications[0].Tags).To(ContainElement(types.Tag{
				Key: aws.String("Name"), Value: aws.String("ecr-image-puller"),
			}))

			Expect(instance.ID).To(Equal("i-0abc"))
			Expect(instance.PublicDNS).NotTo(BeEmpty())
			Expect(instance.PublicIP).NotTo(BeEmpty())
			Expect(instance.State).To(Equal(StateRunning))
			Expect(instance.DeploymentID).NotTo(BeEmpty())
		})

		It("should resolve the same addresses as Create returned", func() {
			instance, err := controller.Create(ctx, spec)
			Expect(err).NotTo(HaveOccurred())

			dns, ip, err := controller.Resolve(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(dns).To(Equal(instance.PublicDNS))
			Expect(ip).To(Equal(instance.PublicIP))
		})

		It("should fail with ErrProvisioning when the provider rejects the request", func() {
			client.runErr = errors.New("InsufficientInstanceCapacity")

			_, err := controller.Create(ctx, spec)
			Expect(err).To(MatchError(faults.ErrProvisioning))
		})

		It("should fail with ErrProvisioning when running is never reached", func() {
			client.stuck = true
			controller.options.RunningTimeout = time.Millisecond

			_, err := controller.Create(ctx, spec)
			Expect(err).To(MatchError(faults.ErrProvisioning))
		})
	})

	Context("Resolve", func() {
		It("should fail with ErrLookup when the instance has no public address", func() {
			client.state = types.InstanceStateNameStopped

			_, _, err := controller.Resolve(ctx, "i-0abc")
			Expect(err).To(MatchError(faults.ErrLookup))
		})
	})

	Context("Start", func() {
		It("should start a stopped instance, re-resolve addresses and connect", func() {
			client.state = types.InstanceStateNameStopped

			instance, err := controller.Start(ctx, "i-0abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(instance.PublicDNS).To(Equal("ec2-54-0-0-2.compute-1.amazonaws.com"))
			Expect(instance.PublicIP).To(Equal("54.0.0.2"))
			Expect(dialed).To(Equal([]string{"ec2-54-0-0-2.compute-1.amazonaws.com"}))
			Expect(controller.Session()).NotTo(BeNil())
		})

		It("should reject starting an instance that is already running", func() {
			client.state = types.InstanceStateNameRunning

			_, err := controller.Start(ctx, "i-0abc")
			Expect(err).To(MatchError(faults.ErrStateTransition))
			Expect(calls).NotTo(ContainElement("start"))
		})

		It("should fail with ErrStateTransition on timeout", func() {
			client.state = types.InstanceStateNameStopped
			client.stuck = true
			controller.options.RunningTimeout = time.Millisecond

			_, err := controller.Start(ctx, "i-0abc")
			Expect(err).To(MatchError(faults.ErrStateTransition))
			Expect(dialed).To(BeEmpty())
		})
	})

	Context("Stop", func() {
		It("should close the open session before requesting the stop even if close fails", func() {
			client.state = types.InstanceStateNameRunning
			controller.session = &fakeSession{calls: &calls, host: "h", closeErr: errors.New("broken pipe")}

			Expect(controller.Stop(ctx, "i-0abc")).To(Succeed())

			closeAt := indexOf(calls, "close-session")
			stopAt := indexOf(calls, "stop")
			Expect(closeAt).To(BeNumerically(">=", 0))
			Expect(stopAt).To(BeNumerically(">", closeAt))
			Expect(controller.Session()).To(BeNil())
		})

		It("should reject stopping an instance that is already stopped", func() {
			client.state = types.InstanceStateNameStopped

			err := controller.Stop(ctx, "i-0abc")
			Expect(err).To(MatchError(faults.ErrStateTransition))
			Expect(calls).NotTo(ContainElement("stop"))
		})

		It("should reject stopping an instance that is still pending", func() {
			client.state = types.InstanceStateNamePending

			err := controller.Stop(ctx, "i-0abc")
			Expect(err).To(MatchError(faults.ErrStateTransition))
			Expect(calls).NotTo(ContainElement("stop"))
		})

		It("should fail with ErrStateTransition on timeout", func() {
			client.state = types.InstanceStateNameRunning
			client.stuck = true
			controller.options.StoppedTimeout = time.Millisecond

			err := controller.Stop(ctx, "i-0abc")
			Expect(err).To(MatchError(faults.ErrStateTransition))
		})
	})

	Context("Connect", func() {
		It("should keep at most one live session", func() {
			instance := Instance{ID: "i-0abc", PublicDNS: "ec2-a", PublicIP: "54.0.0.1"}

			_, err := controller.Connect(ctx, instance)
			Expect(err).NotTo(HaveOccurred())
			_, err = controller.Connect(ctx, instance)
			Expect(err).NotTo(HaveOccurred())

			Expect(dialed).To(HaveLen(2))
			Expect(calls).To(Equal([]string{"close-session"}))
		})

		It("should refuse to connect without a public address", func() {
			_, err := controller.Connect(ctx, Instance{ID: "i-0abc"})
			Expect(err).To(MatchError(faults.ErrConnection))
		})
	})
})
