// Package deploy runs the fixed deployment sequence: create an instance,
// authenticate to the registry, install and run the container, write the
// nginx config and restart the proxy.
package deploy

import (
	"context"
	"fmt"
	"strings"

	"ecrdeploy/internal/config"
	"ecrdeploy/internal/control"
	"ecrdeploy/internal/faults"
	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/nginx"
	"ecrdeploy/internal/provisioning"
	"ecrdeploy/internal/registry"
	"ecrdeploy/internal/state"

	"github.com/distribution/reference"
	"go.uber.org/zap"
)

// Step names reported in StepError.
const (
	StepValidate         = "validate"
	StepCreateInstance   = "create-instance"
	StepRegistryAuth     = "registry-auth"
	StepConnect          = "connect"
	StepInstallAndRun    = "install-and-run"
	StepWriteProxyConfig = "write-proxy-config"
	StepReconnect        = "reconnect"
	StepRestartProxy     = "restart-proxy"
)

// Instances is the part of the lifecycle controller the sequencer uses.
type Instances interface {
	Create(ctx context.Context, spec provisioning.InstanceSpec) (*provisioning.Instance, error)
	Connect(ctx context.Context, instance provisioning.Instance) (control.Session, error)
	CloseSession()
}

// Credentials issues registry credentials.
type Credentials interface {
	Credential(ctx context.Context) (*registry.Credential, error)
}

// Request holds everything one deployment needs.
type Request struct {
	Instance      provisioning.InstanceSpec
	User          string
	ContainerName string
	Image         string
	ExposedPort   int
	Subdomains    []string
	Endpoint      string
	ConfDir       string
	FileName      string

	// FailOnRemoteError turns a non-zero exit of a critical command into a
	// deployment failure. When false such exits are only logged.
	FailOnRemoteError bool
}

// RequestFromConfig builds a Request from loaded configuration.
func RequestFromConfig(cfg *config.Config) Request {
	return Request{
		Instance: provisioning.InstanceSpec{
			ImageID:         cfg.Instance.ImageID,
			InstanceType:    cfg.Instance.InstanceType,
			KeyName:         cfg.Instance.KeyName,
			SecurityGroupID: cfg.Instance.SecurityGroupID,
			Name:            cfg.Instance.NameTag,
		},
		User:              cfg.SSH.User,
		ContainerName:     cfg.Container.Name,
		Image:             cfg.Container.Image,
		ExposedPort:       cfg.Container.ExposedPort,
		Subdomains:        cfg.Nginx.Subdomains,
		Endpoint:          cfg.Nginx.Endpoint,
		ConfDir:           cfg.Nginx.ConfDir,
		FileName:          cfg.Nginx.FileName,
		FailOnRemoteError: cfg.Container.FailOnRemoteError,
	}
}

// Result describes a finished deployment.
type Result struct {
	InstanceID   string
	DeploymentID string
	PublicDNS    string
	PublicIP     string
	URL          string
}

// Deployer runs deployments
type Deployer struct {
	instances   Instances
	credentials Credentials
}

// NewDeployer creates a new Deployer
func NewDeployer(instances Instances, credentials Credentials) *Deployer {
	return &Deployer{
		instances:   instances,
		credentials: credentials,
	}
}

// Deploy runs the sequence. The first failure aborts it and is returned as
// a *faults.StepError. Nothing is torn down: once the instance exists, a
// failure still returns a partial Result naming it, with an empty URL.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	named, err := validate(req)
	if err != nil {
		return nil, faults.Step(StepValidate, err)
	}
	defer d.instances.CloseSession()

	instance, err := d.instances.Create(ctx, req.Instance)
	if err != nil {
		return nil, faults.Step(StepCreateInstance, err)
	}
	result := &Result{
		InstanceID:   instance.ID,
		DeploymentID: instance.DeploymentID,
		PublicDNS:    instance.PublicDNS,
		PublicIP:     instance.PublicIP,
	}

	log := logging.Logger().With(
		zap.String("instance_id", instance.ID),
		zap.String("deployment_id", instance.DeploymentID))
	log.Info("Instance ready", zap.String("public_dns", instance.PublicDNS))

	cred, err := d.credentials.Credential(ctx)
	if err != nil {
		return result, faults.Step(StepRegistryAuth, err)
	}
	if domain := reference.Domain(named); domain != cred.Host() {
		log.Warn("Image registry differs from the authenticated registry",
			zap.String("image_registry", domain),
			zap.String("credential_registry", cred.Host()))
	}

	session, err := d.instances.Connect(ctx, *instance)
	if err != nil {
		return result, faults.Step(StepConnect, err)
	}

	hook := criticalHook(req.FailOnRemoteError)
	if _, err := control.RunAll(ctx, session, SetupCommands(req, cred), hook); err != nil {
		return result, faults.Step(StepInstallAndRun, err)
	}
	log.Info("Image pulled and container started",
		zap.String("image", req.Image),
		zap.String("container", req.ContainerName))

	// proxy_pass deliberately targets the host port docker published
	// (exposed_port), not the container port: the container is only
	// reachable on 127.0.0.1 through that mapping, and the two differ
	// whenever exposed_port is not ContainerPort.
	doc := nginx.Build(req.FileName, req.Subdomains, req.Endpoint, req.ExposedPort)
	if err := nginx.WriteFiles(session, req.ConfDir, doc); err != nil {
		return result, faults.Step(StepWriteProxyConfig, err)
	}

	session, err = d.instances.Connect(ctx, *instance)
	if err != nil {
		return result, faults.Step(StepReconnect, err)
	}
	if _, err := control.RunAll(ctx, session, ProxyCommands(), hook); err != nil {
		return result, faults.Step(StepRestartProxy, err)
	}

	result.URL = URL(req.Subdomains, req.Endpoint)
	log.Info("Deployment complete", zap.String("url", result.URL))

	return result, nil
}

// Record converts a deployment outcome into its persisted form. A non-nil
// err marks the record failed and keeps the error text.
func (r *Result) Record(req Request, err error) state.Deployment {
	record := state.Deployment{
		InstanceID:   r.InstanceID,
		DeploymentID: r.DeploymentID,
		Name:         req.Instance.Name,
		Image:        req.Image,
		URL:          r.URL,
		PublicDNS:    r.PublicDNS,
		PublicIP:     r.PublicIP,
		Status:       string(provisioning.StateRunning),
	}
	if err != nil {
		record.Status = state.StatusFailed
		record.Error = err.Error()
	}
	return record
}

// URL returns the externally reachable address of the deployment.
func URL(subdomains []string, endpoint string) string {
	if len(subdomains) == 0 {
		return "/" + endpoint
	}
	return subdomains[0] + "/" + endpoint
}

func validate(req Request) (reference.Named, error) {
	if len(req.Subdomains) == 0 {
		return nil, fmt.Errorf("at least one subdomain is required")
	}
	if req.ExposedPort < 1 || req.ExposedPort > 65535 {
		return nil, fmt.Errorf("exposed port %d is out of range", req.ExposedPort)
	}
	named, err := reference.ParseNormalizedNamed(req.Image)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", req.Image, err)
	}
	return named, nil
}

// criticalHook reports non-zero exits of critical commands. With fail set
// it stops the batch; otherwise the failure is only logged and the caller
// owns the consequences.
func criticalHook(fail bool) control.ResultHook {
	return func(cmd control.Command, result *control.Result) error {
		if !cmd.Critical || result.Success() {
			return nil
		}
		if fail {
			return fmt.Errorf("%w: exit status %d: %s",
				faults.ErrRemoteCommand, result.ExitStatus, logging.TruncateN(strings.TrimSpace(result.Stderr), 256))
		}
		logging.Logger().Warn("Critical remote command failed, continuing",
			zap.String("command", cmd.Label()),
			zap.Int("exit_status", result.ExitStatus))
		return nil
	}
}
