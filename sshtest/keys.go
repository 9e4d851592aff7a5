package sshtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// GenerateKeys generates user and host RSA keys of size bits. This is slow;
// generate once per test binary and reuse.
func GenerateKeys(bits int) (userKey, hostKey *rsa.PrivateKey, err error) {
	if userKey, err = rsa.GenerateKey(rand.Reader, bits); err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate user RSA key")
	}
	if hostKey, err = rsa.GenerateKey(rand.Reader, bits); err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate host RSA key")
	}
	return userKey, hostKey, nil
}

// WriteKey writes key as PEM to dir/name with mode 0600. A non-empty
// passphrase produces an encrypted OpenSSH key.
func WriteKey(dir, name string, key *rsa.PrivateKey, passphrase string) (string, error) {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	if passphrase != "" {
		var err error
		block, err = ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte(passphrase))
		if err != nil {
			return "", errors.Wrap(err, "failed to encrypt key")
		}
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return "", err
	}
	return path, nil
}

// WriteKnownHosts writes a known_hosts file trusting hostKey for addr.
func WriteKnownHosts(dir string, addr string, hostKey *rsa.PrivateKey) (string, error) {
	pub, err := ssh.NewPublicKey(&hostKey.PublicKey)
	if err != nil {
		return "", err
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, pub)
	path := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
		return "", err
	}
	return path, nil
}
