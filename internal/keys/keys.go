// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keys manages the ephemeral SSH credential for one tunnel run:
// generate an ed25519 pair, park it at a fixed per-user path, register the
// public half with EC2 Instance Connect, and delete both files on teardown.
// The path is identifier-independent, so every run overwrites the previous
// pair; the files never outlive the session on a clean exit.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2instanceconnect"
	"golang.org/x/crypto/ssh"

	"github.com/metosin/aws-tools/internal/resolve"
)

// File names of the key pair under the rds-proxy directory. Constant base
// path: the pair is shared across database identifiers.
const (
	PrivateKeyName = "tunnel_key"
	PublicKeyName  = "tunnel_key.pub"
)

// PublicKeySender is the slice of the EC2 Instance Connect API used here.
type PublicKeySender interface {
	SendSSHPublicKey(ctx context.Context, in *ec2instanceconnect.SendSSHPublicKeyInput, opts ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error)
}

// Pair is an ephemeral key pair in marshaled form.
type Pair struct {
	PublicKey  string // authorized_keys format, with comment
	PrivateKey string // OpenSSH PEM, no passphrase
}

// PrivateKeyPath returns the fixed location of the private key file.
func PrivateKeyPath(dir string) string { return filepath.Join(dir, PrivateKeyName) }

// PublicKeyPath returns the fixed location of the public key file.
func PublicKeyPath(dir string) string { return filepath.Join(dir, PublicKeyName) }

// GenerateEd25519Pair creates a new ed25519 key pair and returns it as
// formatted strings: the public key in authorized_keys format and the
// private key in PEM format. Tunnel keys are never passphrase-protected;
// they live for one session only.
func GenerateEd25519Pair(comment string) (*Pair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	pubKeyBytes := ssh.MarshalAuthorizedKey(sshPubKey)

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &Pair{
		PublicKey:  fmt.Sprintf("%s %s", strings.TrimSpace(string(pubKeyBytes)), comment),
		PrivateKey: string(pem.EncodeToMemory(pemBlock)),
	}, nil
}

// WritePair persists the pair under dir. The private key is 0600; ssh
// refuses keys with looser permissions.
func (p *Pair) WritePair(dir string) error {
	if err := os.WriteFile(PrivateKeyPath(dir), []byte(p.PrivateKey), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(PublicKeyPath(dir), []byte(p.PublicKey+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// RemovePair deletes both key files. Missing files are not an error; the
// function is called both before a run (stale material) and after it.
func RemovePair(dir string) error {
	var firstErr error
	for _, p := range []string{PrivateKeyPath(dir), PublicKeyPath(dir)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Push registers the public key with EC2 Instance Connect for the resolved
// instance and zone. AWS enforces the short validity window (about 60
// seconds from registration); nothing here needs to revoke it.
func Push(ctx context.Context, client PublicKeySender, instanceID, availabilityZone, osUser, publicKey string) error {
	out, err := client.SendSSHPublicKey(ctx, &ec2instanceconnect.SendSSHPublicKeyInput{
		InstanceId:       aws.String(instanceID),
		AvailabilityZone: aws.String(availabilityZone),
		InstanceOSUser:   aws.String(osUser),
		SSHPublicKey:     aws.String(publicKey),
	})
	if err != nil {
		return resolve.ClassifyAWSError(err)
	}
	if out != nil && !out.Success {
		return fmt.Errorf("instance connect rejected the public key for %s", instanceID)
	}
	return nil
}

// Provision runs the full credential beat for a session: clear stale
// material, generate a fresh pair, write it to disk and push the public
// half. It returns the private key path for the ssh identity flag.
func Provision(ctx context.Context, client PublicKeySender, dir, instanceID, availabilityZone, osUser string) (string, error) {
	if err := RemovePair(dir); err != nil {
		return "", fmt.Errorf("failed to remove stale key files: %w", err)
	}

	pair, err := GenerateEd25519Pair("rds-proxy-ephemeral")
	if err != nil {
		return "", err
	}
	if err := pair.WritePair(dir); err != nil {
		return "", err
	}

	if err := Push(ctx, client, instanceID, availabilityZone, osUser, pair.PublicKey); err != nil {
		return "", fmt.Errorf("failed to push public key: %w", err)
	}
	return PrivateKeyPath(dir), nil
}
