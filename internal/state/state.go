// Package state records deployments so lifecycle commands can find them later.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecrdeploy/internal/config"
)

// ErrNotFound is returned when no record exists for an instance.
var ErrNotFound = errors.New("deployment not found")

// StatusFailed marks a deployment that aborted after its instance was created.
const StatusFailed = "failed"

// Deployment is the persisted record of one deployment, keyed by instance id.
type Deployment struct {
	InstanceID   string    `json:"instance_id"`
	DeploymentID string    `json:"deployment_id"`
	Name         string    `json:"name"`
	Image        string    `json:"image"`
	URL          string    `json:"url"`
	PublicDNS    string    `json:"public_dns,omitempty"`
	PublicIP     string    `json:"public_ip,omitempty"`
	Status       string    `json:"status"` // last observed instance state, or StatusFailed
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store defines deployment record persistence
type Store interface {
	Save(ctx context.Context, d Deployment) error
	Get(ctx context.Context, instanceID string) (Deployment, error)
	Update(ctx context.Context, instanceID string, updateFn func(*Deployment)) error
	List(ctx context.Context) ([]Deployment, error)
	Close() error
}

// NewStore opens the store selected by cfg.
func NewStore(cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case config.StateBackendFile, "":
		return NewFileStore(cfg.Path), nil
	case config.StateBackendEtcd:
		s, err := NewEtcdStore(cfg.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", cfg.Backend)
	}
}

func touch(d *Deployment, now time.Time) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
}
