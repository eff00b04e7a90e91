package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"ecrdeploy/internal/config"
	"ecrdeploy/internal/control"
	"ecrdeploy/internal/faults"
	"ecrdeploy/internal/provisioning"
	"ecrdeploy/internal/registry"
	"ecrdeploy/internal/state"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeSession struct {
	lines  *[]string
	stdin  map[string]string
	logins []string
	exitOn map[string]int
	failOn string
	files  map[string]string
}

func (s *fakeSession) Run(ctx context.Context, cmd control.Command) (*control.Result, error) {
	*s.lines = append(*s.lines, cmd.Line)
	if cmd.Stdin != "" {
		s.stdin[cmd.Line] = cmd.Stdin
	}
	if strings.HasPrefix(cmd.Line, "sudo docker login") {
		s.logins = append(s.logins, cmd.Stdin)
	}
	for prefix, code := range s.exitOn {
		if strings.HasPrefix(cmd.Line, prefix) {
			return &control.Result{Command: cmd.Label(), Stderr: "boom", ExitStatus: code}, nil
		}
	}
	if s.failOn != "" && strings.HasPrefix(cmd.Line, s.failOn) {
		return nil, fmt.Errorf("%w: connection reset", faults.ErrExecution)
	}
	return &control.Result{Command: cmd.Label()}, nil
}

func (s *fakeSession) WriteFile(remotePath string, data []byte, mode os.FileMode) error {
	*s.lines = append(*s.lines, "write "+remotePath)
	s.files[remotePath] = string(data)
	return nil
}

func (s *fakeSession) Host() string { return "ec2-54-0-0-1.compute-1.amazonaws.com" }

func (s *fakeSession) Close() error { return nil }

type fakeInstances struct {
	session   *fakeSession
	createErr error
	connects  int
	closed    int
}

func (f *fakeInstances) Create(ctx context.Context, spec provisioning.InstanceSpec) (*provisioning.Instance, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &provisioning.Instance{
		ID:           "i-0abc",
		Name:         spec.Name,
		DeploymentID: "d-1",
		PublicDNS:    "ec2-54-0-0-1.compute-1.amazonaws.com",
		PublicIP:     "54.0.0.1",
		State:        provisioning.StateRunning,
	}, nil
}

func (f *fakeInstances) Connect(ctx context.Context, instance provisioning.Instance) (control.Session, error) {
	f.connects++
	return f.session, nil
}

func (f *fakeInstances) CloseSession() { f.closed++ }

type fakeCredentials struct {
	calls int
	err   error
}

func (f *fakeCredentials) Credential(ctx context.Context) (*registry.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &registry.Credential{
		Username: "AWS",
		Password: fmt.Sprintf("secret-%d", f.calls),
		Endpoint: "https://123456789012.dkr.ecr.us-east-1.amazonaws.com",
	}, nil
}

func testRequest() Request {
	cfg := config.Default()
	cfg.Instance.ImageID = "ami-123"
	cfg.Instance.KeyName = "deploy"
	cfg.Instance.SecurityGroupID = "sg-1"
	cfg.Container.Name = "myapp"
	cfg.Container.Image = "123456789012.dkr.ecr.us-east-1.amazonaws.com/myapp:1.0"
	cfg.Container.ExposedPort = 8080
	cfg.Nginx.Subdomains = []string{"a.example.com", "b.example.com"}
	cfg.Nginx.Endpoint = "api"
	return RequestFromConfig(cfg)
}

func indexOf(lines []string, prefix string) int {
	for i, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}

var _ = Describe("Deployer", func() {
	var (
		lines     []string
		session   *fakeSession
		instances *fakeInstances
		creds     *fakeCredentials
		deployer  *Deployer
		req       Request
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		lines = nil
		session = &fakeSession{
			lines:  &lines,
			stdin:  map[string]string{},
			exitOn: map[string]int{},
			files:  map[string]string{},
		}
		instances = &fakeInstances{session: session}
		creds = &fakeCredentials{}
		deployer = NewDeployer(instances, creds)
		req = testRequest()
	})

	It("runs the full sequence and returns the URL", func() {
		result, err := deployer.Deploy(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.InstanceID).To(Equal("i-0abc"))
		Expect(result.DeploymentID).To(Equal("d-1"))
		Expect(result.URL).To(Equal("a.example.com/api"))

		Expect(lines).To(Equal([]string{
			"sudo yum update -y",
			"sudo yum install -y docker nginx",
			"sudo service docker start",
			"sudo usermod -a -G docker ec2-user",
			"sudo docker login --username AWS --password-stdin https://123456789012.dkr.ecr.us-east-1.amazonaws.com",
			"sudo docker pull 123456789012.dkr.ecr.us-east-1.amazonaws.com/myapp:1.0",
			"sudo docker run -d --name myapp -p 8080:5000 123456789012.dkr.ecr.us-east-1.amazonaws.com/myapp:1.0",
			"write /etc/nginx/conf.d/nginx_config.conf",
			"sudo nginx -t",
			"sudo systemctl restart nginx",
		}))
		Expect(instances.connects).To(Equal(2))
		Expect(instances.closed).To(Equal(1))

		record := result.Record(req, nil)
		Expect(record.Status).To(Equal("running"))
		Expect(record.Error).To(BeEmpty())
		Expect(record.URL).To(Equal("a.example.com/api"))
		Expect(record.Image).To(Equal(req.Image))
	})

	It("passes the registry password on stdin only", func() {
		_, err := deployer.Deploy(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		for _, l := range lines {
			Expect(l).NotTo(ContainSubstring("secret-1"))
		}
		login := lines[indexOf(lines, "sudo docker login")]
		Expect(session.stdin[login]).To(Equal("secret-1"))
	})

	It("points the proxy at the exposed host port", func() {
		_, err := deployer.Deploy(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		conf := session.files["/etc/nginx/conf.d/nginx_config.conf"]
		Expect(conf).To(ContainSubstring("server_name a.example.com b.example.com;"))
		Expect(conf).To(ContainSubstring("location /api {"))
		Expect(conf).To(ContainSubstring("proxy_pass http://127.0.0.1:8080/api;"))
	})

	It("logs in with a fresh credential on every deployment", func() {
		_, err := deployer.Deploy(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		_, err = deployer.Deploy(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.calls).To(Equal(2))
		Expect(session.logins).To(Equal([]string{"secret-1", "secret-2"}))
	})

	It("rejects an invalid image before any provider call", func() {
		req.Image = "Not A Valid Image"
		result, err := deployer.Deploy(ctx, req)
		Expect(err).To(HaveOccurred())
		Expect(result).To(BeNil())
		step, ok := faults.FailedStep(err)
		Expect(ok).To(BeTrue())
		Expect(step).To(Equal(StepValidate))
		Expect(instances.connects).To(BeZero())
		Expect(creds.calls).To(BeZero())
	})

	It("identifies the create step when provisioning fails", func() {
		instances.createErr = fmt.Errorf("%w: quota exceeded", faults.ErrProvisioning)
		result, err := deployer.Deploy(ctx, req)
		Expect(result).To(BeNil())
		Expect(errors.Is(err, faults.ErrProvisioning)).To(BeTrue())
		step, _ := faults.FailedStep(err)
		Expect(step).To(Equal(StepCreateInstance))
		Expect(creds.calls).To(BeZero())
	})

	It("identifies the auth step when the registry denies access", func() {
		creds.err = fmt.Errorf("%w: access denied", faults.ErrAuth)
		result, err := deployer.Deploy(ctx, req)
		Expect(errors.Is(err, faults.ErrAuth)).To(BeTrue())
		Expect(result.InstanceID).To(Equal("i-0abc"))
		step, _ := faults.FailedStep(err)
		Expect(step).To(Equal(StepRegistryAuth))
		Expect(lines).To(BeEmpty())
	})

	It("stops the batch on a transport failure", func() {
		session.failOn = "sudo service docker start"
		_, err := deployer.Deploy(ctx, req)
		Expect(errors.Is(err, faults.ErrExecution)).To(BeTrue())
		step, _ := faults.FailedStep(err)
		Expect(step).To(Equal(StepInstallAndRun))
		Expect(lines).To(HaveLen(3))
	})

	Context("when docker pull exits non-zero", func() {
		BeforeEach(func() {
			session.exitOn["sudo docker pull"] = 1
		})

		It("aborts before docker run when remote errors are fatal", func() {
			result, err := deployer.Deploy(ctx, req)
			Expect(errors.Is(err, faults.ErrRemoteCommand)).To(BeTrue())
			Expect(result.InstanceID).To(Equal("i-0abc"))
			Expect(result.DeploymentID).To(Equal("d-1"))
			Expect(result.URL).To(BeEmpty())

			record := result.Record(req, err)
			Expect(record.InstanceID).To(Equal("i-0abc"))
			Expect(record.Status).To(Equal(state.StatusFailed))
			Expect(record.Error).To(ContainSubstring("install-and-run"))
			step, _ := faults.FailedStep(err)
			Expect(step).To(Equal(StepInstallAndRun))
			Expect(indexOf(lines, "sudo docker run")).To(Equal(-1))
		})

		It("continues when remote errors are only logged", func() {
			req.FailOnRemoteError = false
			result, err := deployer.Deploy(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.URL).To(Equal("a.example.com/api"))
			Expect(indexOf(lines, "sudo docker run")).To(BeNumerically(">", 0))
		})
	})

	It("ignores a failing non-critical command", func() {
		session.exitOn["sudo yum update"] = 1
		_, err := deployer.Deploy(ctx, req)
		Expect(err).NotTo(HaveOccurred())
	})

	It("fails the restart step when the nginx config is rejected", func() {
		session.exitOn["sudo nginx -t"] = 1
		_, err := deployer.Deploy(ctx, req)
		Expect(errors.Is(err, faults.ErrRemoteCommand)).To(BeTrue())
		step, _ := faults.FailedStep(err)
		Expect(step).To(Equal(StepRestartProxy))
		Expect(indexOf(lines, "sudo systemctl restart nginx")).To(Equal(-1))
	})
})

var _ = Describe("SetupCommands", func() {
	It("quotes values that need it", func() {
		req := testRequest()
		req.ContainerName = "my app"
		cmds := SetupCommands(req, &registry.Credential{Username: "AWS", Endpoint: "r.example.com"})
		Expect(cmds[len(cmds)-1].Line).To(ContainSubstring("--name 'my app' "))
	})

	It("marks login, pull and run as critical", func() {
		var critical []string
		for _, c := range SetupCommands(testRequest(), &registry.Credential{}) {
			if c.Critical {
				critical = append(critical, c.Name)
			}
		}
		Expect(critical).To(Equal([]string{"registry login", "pull image", "run container"}))
	})
})

var _ = DescribeTable("URL",
	func(subdomains []string, endpoint, expected string) {
		Expect(URL(subdomains, endpoint)).To(Equal(expected))
	},
	Entry("first subdomain wins", []string{"a.example.com", "b.example.com"}, "api", "a.example.com/api"),
	Entry("single subdomain", []string{"x.io"}, "v1", "x.io/v1"),
)
