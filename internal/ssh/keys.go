package ssh

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// LoadSigner loads the private key used to log in to instances. The key
// must be the PEM file downloaded for the EC2 key pair and must not be
// passphrase protected.
func LoadSigner(privateKeyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParseSigner(keyBytes)
}

// ParseSigner parses a PEM-encoded private key.
func ParseSigner(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key is passphrase protected, which is not supported")
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// Fingerprint returns the SHA256 fingerprint of the signer's public key.
func Fingerprint(signer ssh.Signer) string {
	return ssh.FingerprintSHA256(signer.PublicKey())
}
