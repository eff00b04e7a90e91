package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither an explicit path nor CONFIG_PATH is set.
const DefaultPath = "ecrdeploy.yaml"

// StateBackend selects where deployment records are kept.
type StateBackend string

const (
	StateBackendFile StateBackend = "file"
	StateBackendEtcd StateBackend = "etcd"
)

// Config contains application configuration
type Config struct {
	// AWS connection parameters. Static keys are optional; when empty the
	// default credential chain is used.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	Instance  InstanceConfig  `yaml:"instance"`
	SSH       SSHConfig       `yaml:"ssh"`
	Container ContainerConfig `yaml:"container"`
	Nginx     NginxConfig     `yaml:"nginx"`
	State     StateConfig     `yaml:"state"`
}

// InstanceConfig describes the EC2 instance to launch.
type InstanceConfig struct {
	ImageID         string        `yaml:"ami_id"`
	InstanceType    string        `yaml:"instance_type"`
	KeyName         string        `yaml:"key_name"`
	SecurityGroupID string        `yaml:"security_group_id"`
	NameTag         string        `yaml:"name_tag"`
	RunningTimeout  time.Duration `yaml:"running_timeout"`
	StoppedTimeout  time.Duration `yaml:"stopped_timeout"`
}

// SSHConfig holds the remote login identity and host key policy.
type SSHConfig struct {
	User    string `yaml:"user"`
	KeyPath string `yaml:"key_path"`

	// StrictHostCheck verifies host keys against KnownHosts. It is off by
	// default: fresh instances have unknown keys, so the first connection
	// trusts whatever key the host presents.
	StrictHostCheck bool          `yaml:"strict_host_check"`
	KnownHosts      string        `yaml:"known_hosts"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// ContainerConfig describes the image to pull and how to run it.
type ContainerConfig struct {
	Name        string `yaml:"name"`
	Image       string `yaml:"image"`
	ExposedPort int    `yaml:"exposed_port"`

	// FailOnRemoteError aborts a deployment when a critical remote step
	// (registry login, pull, run, proxy restart) exits non-zero.
	FailOnRemoteError bool `yaml:"fail_on_remote_error"`
}

// NginxConfig describes how the container is exposed through nginx.
type NginxConfig struct {
	Subdomains []string `yaml:"subdomains"`
	Endpoint   string   `yaml:"endpoint"`
	ConfDir    string   `yaml:"conf_dir"`
	FileName   string   `yaml:"file_name"`
}

// StateConfig selects the deployment record store.
type StateConfig struct {
	Backend       StateBackend `yaml:"backend"`
	Path          string       `yaml:"path"`
	EtcdEndpoints []string     `yaml:"etcd_endpoints"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Instance: InstanceConfig{
			InstanceType:   "t2.micro",
			NameTag:        "ecr-image-puller",
			RunningTimeout: 10 * time.Minute,
			StoppedTimeout: 10 * time.Minute,
		},
		SSH: SSHConfig{
			User:        "ec2-user",
			DialTimeout: 30 * time.Second,
		},
		Container: ContainerConfig{
			ExposedPort:       5000,
			FailOnRemoteError: true,
		},
		Nginx: NginxConfig{
			ConfDir:  "/etc/nginx/conf.d",
			FileName: "nginx_config.conf",
		},
		State: StateConfig{
			Backend: StateBackendFile,
			Path:    "ecrdeploy-state.json",
		},
	}
}

// Load loads configuration from a YAML file. An empty path falls back to
// CONFIG_PATH and then DefaultPath; a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.expandEnv()

	// Override with environment variables if set
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Region = region
	}
	if keyPath := os.Getenv("ECRDEPLOY_KEY_PATH"); keyPath != "" {
		config.SSH.KeyPath = keyPath
	}

	config.Nginx.Endpoint = strings.Trim(config.Nginx.Endpoint, "/")

	return config, nil
}

func (c *Config) expandEnv() {
	for _, s := range []*string{
		&c.Region,
		&c.AccessKeyID,
		&c.SecretAccessKey,
		&c.Instance.ImageID,
		&c.Instance.KeyName,
		&c.Instance.SecurityGroupID,
		&c.SSH.User,
		&c.SSH.KeyPath,
		&c.SSH.KnownHosts,
		&c.Container.Name,
		&c.Container.Image,
		&c.Nginx.Endpoint,
		&c.State.Path,
	} {
		*s = os.ExpandEnv(*s)
	}
	for i, sub := range c.Nginx.Subdomains {
		c.Nginx.Subdomains[i] = os.ExpandEnv(sub)
	}
}

// ValidateDeploy checks everything a full deployment needs.
func (c *Config) ValidateDeploy() error {
	var errs []error
	if c.Instance.ImageID == "" {
		errs = append(errs, errors.New("instance.ami_id is required"))
	}
	if c.Instance.InstanceType == "" {
		errs = append(errs, errors.New("instance.instance_type is required"))
	}
	if c.Instance.KeyName == "" {
		errs = append(errs, errors.New("instance.key_name is required"))
	}
	if c.Instance.SecurityGroupID == "" {
		errs = append(errs, errors.New("instance.security_group_id is required"))
	}
	if c.Container.Name == "" {
		errs = append(errs, errors.New("container.name is required"))
	}
	if c.Container.Image == "" {
		errs = append(errs, errors.New("container.image is required"))
	} else if _, err := reference.ParseNormalizedNamed(c.Container.Image); err != nil {
		errs = append(errs, fmt.Errorf("container.image %q is not a valid image reference: %w", c.Container.Image, err))
	}
	if err := c.ValidateLifecycle(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ValidateNginx(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateAWS checks the settings needed for any AWS API call. Commands
// that never reach AWS, like render, work without a region.
func (c *Config) ValidateAWS() error {
	if c.Region == "" {
		return errors.New("region is required (set region in config file or AWS_REGION environment variable)")
	}
	return nil
}

// ValidateLifecycle checks the settings needed to start an instance and reach it.
func (c *Config) ValidateLifecycle() error {
	var errs []error
	if err := c.ValidateAWS(); err != nil {
		errs = append(errs, err)
	}
	if c.SSH.User == "" {
		errs = append(errs, errors.New("ssh.user is required"))
	}
	if c.SSH.KeyPath == "" {
		errs = append(errs, errors.New("ssh.key_path is required (or set ECRDEPLOY_KEY_PATH)"))
	}
	if c.SSH.StrictHostCheck && c.SSH.KnownHosts == "" {
		errs = append(errs, errors.New("ssh.known_hosts is required when ssh.strict_host_check is enabled"))
	}
	if c.Instance.RunningTimeout <= 0 || c.Instance.StoppedTimeout <= 0 {
		errs = append(errs, errors.New("instance wait timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateNginx checks the settings needed to build the proxy document.
func (c *Config) ValidateNginx() error {
	var errs []error
	if len(c.Nginx.Subdomains) == 0 {
		errs = append(errs, errors.New("nginx.subdomains must list at least one name"))
	}
	for _, sub := range c.Nginx.Subdomains {
		if sub == "" || strings.ContainsAny(sub, " \t;{}") {
			errs = append(errs, fmt.Errorf("nginx.subdomains entry %q is not a valid server name", sub))
		}
	}
	if c.Nginx.Endpoint == "" {
		errs = append(errs, errors.New("nginx.endpoint is required"))
	}
	if c.Nginx.FileName == "" || strings.Contains(c.Nginx.FileName, "/") {
		errs = append(errs, fmt.Errorf("nginx.file_name %q must be a bare file name", c.Nginx.FileName))
	}
	if c.Container.ExposedPort < 1 || c.Container.ExposedPort > 65535 {
		errs = append(errs, fmt.Errorf("container.exposed_port %d is out of range", c.Container.ExposedPort))
	}
	return errors.Join(errs...)
}
