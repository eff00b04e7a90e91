package cmd

import (
	"context"

	"ecrdeploy/internal/config"
	"ecrdeploy/internal/control"
	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/provisioning"
	"ecrdeploy/internal/registry"
	"ecrdeploy/internal/ssh"
	"ecrdeploy/internal/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"go.uber.org/zap"
)

func awsConfig(ctx context.Context, cfg *config.Config) aws.Config {
	awsCfg, err := provisioning.NewAWSConfig(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logging.Logger().Fatal("Failed to configure AWS client", zap.Error(err))
	}
	return awsCfg
}

// newDialer loads the SSH identity once and returns a dialer that opens a
// session to an instance's public DNS name.
func newDialer(cfg *config.Config) provisioning.Dialer {
	signer, err := ssh.LoadSigner(cfg.SSH.KeyPath)
	if err != nil {
		logging.Logger().Fatal("Failed to load SSH key", zap.String("path", cfg.SSH.KeyPath), zap.Error(err))
	}
	logging.Logger().Info("Loaded SSH key",
		zap.String("path", cfg.SSH.KeyPath),
		zap.String("fingerprint", ssh.Fingerprint(signer)))
	hostKeys, err := ssh.HostKeyCallback(cfg.SSH.StrictHostCheck, cfg.SSH.KnownHosts)
	if err != nil {
		logging.Logger().Fatal("Failed to set up host key verification", zap.Error(err))
	}

	return func(ctx context.Context, instance provisioning.Instance) (control.Session, error) {
		session, err := control.Connect(ctx, control.Config{
			Host:            instance.PublicDNS,
			User:            cfg.SSH.User,
			Signer:          signer,
			HostKeyCallback: hostKeys,
			DialTimeout:     cfg.SSH.DialTimeout,
			InstanceName:    instance.Name,
		})
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

func newController(awsCfg aws.Config, cfg *config.Config, dial provisioning.Dialer) *provisioning.Controller {
	return provisioning.NewController(ec2.NewFromConfig(awsCfg), dial, provisioning.Options{
		RunningTimeout: cfg.Instance.RunningTimeout,
		StoppedTimeout: cfg.Instance.StoppedTimeout,
	})
}

func newAuthenticator(awsCfg aws.Config) *registry.Authenticator {
	return registry.NewAuthenticator(ecr.NewFromConfig(awsCfg))
}

func openStore(cfg *config.Config) state.Store {
	store, err := state.NewStore(cfg.State)
	if err != nil {
		logging.Logger().Fatal("Failed to open state store", zap.Error(err))
	}
	return store
}

// updateRecord refreshes a stored deployment. Instances that were never
// recorded are not an error: lifecycle commands work on any instance id.
func updateRecord(ctx context.Context, store state.Store, instanceID string, updateFn func(*state.Deployment)) {
	if err := store.Update(ctx, instanceID, updateFn); err != nil {
		logging.Logger().Warn("Failed to update deployment record",
			zap.String("instance_id", instanceID), zap.Error(err))
	}
}

func logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if code := provisioning.ErrorCode(err); code != "" {
		fields = append(fields, zap.String("aws_error_code", code))
	}
	logging.Logger().Fatal(msg, fields...)
}
