package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/ecrdeploy/deployments/"

// EtcdStore keeps records in etcd, one key per instance.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to etcd
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd state backend requires at least one endpoint")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

func etcdKey(instanceID string) string {
	return etcdPrefix + instanceID
}

// Close closes the etcd client connection
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// Save inserts or replaces a record
func (s *EtcdStore) Save(ctx context.Context, d Deployment) error {
	if d.InstanceID == "" {
		return fmt.Errorf("deployment record has no instance id")
	}
	touch(&d, time.Now())
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	if _, err := s.client.Put(ctx, etcdKey(d.InstanceID), string(data)); err != nil {
		return fmt.Errorf("failed to save deployment to etcd: %w", err)
	}
	return nil
}

// Get returns the record for an instance
func (s *EtcdStore) Get(ctx context.Context, instanceID string) (Deployment, error) {
	d, _, err := s.get(ctx, instanceID)
	return d, err
}

func (s *EtcdStore) get(ctx context.Context, instanceID string) (Deployment, int64, error) {
	resp, err := s.client.Get(ctx, etcdKey(instanceID))
	if err != nil {
		return Deployment{}, 0, fmt.Errorf("failed to get deployment from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return Deployment{}, 0, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	var d Deployment
	if err := json.Unmarshal(resp.Kvs[0].Value, &d); err != nil {
		return Deployment{}, 0, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}
	return d, resp.Kvs[0].ModRevision, nil
}

// Update applies updateFn and writes the record back only if nobody
// changed it in between.
func (s *EtcdStore) Update(ctx context.Context, instanceID string, updateFn func(*Deployment)) error {
	d, rev, err := s.get(ctx, instanceID)
	if err != nil {
		return err
	}
	updateFn(&d)
	d.InstanceID = instanceID
	touch(&d, time.Now())

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	key := etcdKey(instanceID)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to update deployment in etcd: %w", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("deployment %s was modified concurrently", instanceID)
	}
	return nil
}

// List returns all records, oldest first.
func (s *EtcdStore) List(ctx context.Context) ([]Deployment, error) {
	resp, err := s.client.Get(ctx, etcdPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments from etcd: %w", err)
	}
	records := make(map[string]Deployment, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var d Deployment
		if err := json.Unmarshal(kv.Value, &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deployment %s: %w", strings.TrimPrefix(string(kv.Key), etcdPrefix), err)
		}
		records[d.InstanceID] = d
	}
	return sorted(records), nil
}
