// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

package keys

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2instanceconnect"
	"golang.org/x/crypto/ssh"
)

type sendSSHPublicKeyFunc func(context.Context, *ec2instanceconnect.SendSSHPublicKeyInput, ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error)

func (f sendSSHPublicKeyFunc) SendSSHPublicKey(ctx context.Context, in *ec2instanceconnect.SendSSHPublicKeyInput, opts ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error) {
	return f(ctx, in, opts...)
}

func TestGenerateEd25519Pair(t *testing.T) {
	pair, err := GenerateEd25519Pair("test-comment")
	if err != nil {
		t.Fatalf("GenerateEd25519Pair: %v", err)
	}

	if !strings.HasPrefix(pair.PublicKey, "ssh-ed25519 ") {
		t.Fatalf("unexpected public key format: %q", pair.PublicKey)
	}
	if !strings.HasSuffix(pair.PublicKey, " test-comment") {
		t.Fatalf("comment missing: %q", pair.PublicKey)
	}

	// both halves must round-trip through the ssh package
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pair.PublicKey)); err != nil {
		t.Fatalf("public key unparseable: %v", err)
	}
	if _, err := ssh.ParsePrivateKey([]byte(pair.PrivateKey)); err != nil {
		t.Fatalf("private key unparseable: %v", err)
	}
}

func TestWriteAndRemovePair(t *testing.T) {
	dir := t.TempDir()
	pair, err := GenerateEd25519Pair("x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := pair.WritePair(dir); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := os.Stat(PrivateKeyPath(dir))
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("private key mode %o, want 0600", perm)
	}
	if _, err := os.Stat(PublicKeyPath(dir)); err != nil {
		t.Fatalf("stat public key: %v", err)
	}

	if err := RemovePair(dir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(PrivateKeyPath(dir)); !os.IsNotExist(err) {
		t.Fatalf("private key survived removal")
	}
	if _, err := os.Stat(PublicKeyPath(dir)); !os.IsNotExist(err) {
		t.Fatalf("public key survived removal")
	}

	// removing twice is fine
	if err := RemovePair(dir); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestPushSendsResolvedScope(t *testing.T) {
	var captured *ec2instanceconnect.SendSSHPublicKeyInput
	client := sendSSHPublicKeyFunc(func(_ context.Context, in *ec2instanceconnect.SendSSHPublicKeyInput, _ ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error) {
		captured = in
		return &ec2instanceconnect.SendSSHPublicKeyOutput{Success: true}, nil
	})

	err := Push(context.Background(), client, "i-0abc", "eu-west-1a", "ec2-user", "ssh-ed25519 AAAA test")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if aws.ToString(captured.InstanceId) != "i-0abc" {
		t.Fatalf("instance id: %v", captured.InstanceId)
	}
	if aws.ToString(captured.AvailabilityZone) != "eu-west-1a" {
		t.Fatalf("zone: %v", captured.AvailabilityZone)
	}
	if aws.ToString(captured.InstanceOSUser) != "ec2-user" {
		t.Fatalf("os user: %v", captured.InstanceOSUser)
	}
}

func TestPushRejection(t *testing.T) {
	client := sendSSHPublicKeyFunc(func(_ context.Context, _ *ec2instanceconnect.SendSSHPublicKeyInput, _ ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error) {
		return &ec2instanceconnect.SendSSHPublicKeyOutput{Success: false}, nil
	})
	if err := Push(context.Background(), client, "i-0abc", "eu-west-1a", "ec2-user", "key"); err == nil {
		t.Fatalf("expected error for rejected key")
	}
}

func TestProvisionOverwritesStaleMaterial(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(PrivateKeyPath(dir), []byte("stale"), 0600); err != nil {
		t.Fatalf("seed stale key: %v", err)
	}

	client := sendSSHPublicKeyFunc(func(_ context.Context, _ *ec2instanceconnect.SendSSHPublicKeyInput, _ ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error) {
		return &ec2instanceconnect.SendSSHPublicKeyOutput{Success: true}, nil
	})

	keyPath, err := Provision(context.Background(), client, dir, "i-0abc", "eu-west-1a", "ec2-user")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if keyPath != PrivateKeyPath(dir) {
		t.Fatalf("key path %q", keyPath)
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if string(data) == "stale" {
		t.Fatalf("stale key not overwritten")
	}
}

func TestProvisionFailsFastOnPushError(t *testing.T) {
	dir := t.TempDir()
	pushErr := errors.New("push failed")
	client := sendSSHPublicKeyFunc(func(_ context.Context, _ *ec2instanceconnect.SendSSHPublicKeyInput, _ ...func(*ec2instanceconnect.Options)) (*ec2instanceconnect.SendSSHPublicKeyOutput, error) {
		return nil, pushErr
	})

	if _, err := Provision(context.Background(), client, dir, "i-0abc", "eu-west-1a", "ec2-user"); !errors.Is(err, pushErr) {
		t.Fatalf("expected push error, got %v", err)
	}
}
