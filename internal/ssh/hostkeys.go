package ssh

import (
	"fmt"
	"net"

	"ecrdeploy/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback returns the host key policy for instance connections.
//
// With strict set, keys are verified against the known_hosts file at
// knownHostsPath. Without it any key is accepted and only logged: every
// deployment talks to a freshly launched instance whose key cannot be known
// in advance, so the first connection trusts the key it is shown.
func HostKeyCallback(strict bool, knownHostsPath string) (ssh.HostKeyCallback, error) {
	if strict {
		callback, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", knownHostsPath, err)
		}
		return callback, nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		logging.Logger().Warn("Accepting unverified host key",
			zap.String("host", hostname),
			zap.String("key_type", key.Type()),
			zap.String("fingerprint", ssh.FingerprintSHA256(key)))
		return nil
	}, nil
}
