// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tunnel starts and stops the backgrounded ssh port-forward. The
// ssh client multiplexes over a control socket so that teardown is a
// follow-up command to the already-running master process, not a kill. The
// underlying transport is an `aws ssm start-session` subprocess, which is
// what lets the bastion stay without any inbound network exposure.
package tunnel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/metosin/aws-tools/internal/i18n"
)

// External binaries the tunnel depends on.
const (
	sshBinary        = "ssh"
	awsBinary        = "aws"
	sessionPluginBin = "session-manager-plugin"
)

// test seams, overridden in unit tests
var (
	lookPath   = exec.LookPath
	commandCtx = exec.CommandContext
	runCommand = func(cmd *exec.Cmd) error { return cmd.Run() }
)

// Spec describes one tunnel. All fields are resolved before Start; nothing
// here performs lookups.
type Spec struct {
	ControlSocket string // per-identifier socket path; exactly one live tunnel per identifier
	LocalPort     int
	DBAddress     string
	DBPort        int32
	InstanceID    string // the bastion, used as the ssh host via the SSM proxy
	User          string // login user on the bastion
	IdentityFile  string // ephemeral private key
	Region        string // optional, forwarded to the aws subcommand
	Profile       string // optional, forwarded to the aws subcommand
}

// Tunnel is a started forward. It holds what teardown needs and nothing else;
// the ssh master process itself is not monitored beyond its control socket.
type Tunnel struct {
	spec Spec
}

// ControlSocketPath returns the socket path for a database identifier. The
// path is deterministic per identifier: concurrent invocations for the
// same database contend on it, which is the intended mutual exclusion.
func ControlSocketPath(dir, identifier string) string {
	return filepath.Join(dir, identifier+".ctl")
}

// ForwardRule renders the -L argument: local_port:db_address:db_port.
func (s Spec) ForwardRule() string {
	return fmt.Sprintf("%d:%s:%d", s.LocalPort, s.DBAddress, s.DBPort)
}

// Target renders the ssh destination, user@instance-id. The instance id is
// a valid "host" because the SSM proxy command receives it via %h.
func (s Spec) Target() string {
	return s.User + "@" + s.InstanceID
}

// proxyCommand renders the ProxyCommand option that pipes the ssh transport
// through a Session Manager session. %h and %p are ssh's remote host and
// port placeholders, substituted by the ssh client itself.
func (s Spec) proxyCommand() string {
	var b strings.Builder
	b.WriteString(awsBinary + " ssm start-session")
	if s.Region != "" {
		b.WriteString(" --region " + s.Region)
	}
	if s.Profile != "" {
		b.WriteString(" --profile " + s.Profile)
	}
	b.WriteString(" --target %h --document-name AWS-StartSSHSession --parameters portNumber=%p")
	return "ProxyCommand=" + b.String()
}

// startArgs builds the argument list for the master process: background
// after connecting (-f), no remote command (-N), control master (-M) bound
// to the per-identifier socket, and the port forward. Host key checking is
// off: the bastion's host key churns with the instance, and the transport
// is already authenticated by SSM. Trust-on-first-connect is the accepted
// trade-off here.
func (s Spec) startArgs() []string {
	return []string{
		"-f", "-N", "-M",
		"-S", s.ControlSocket,
		"-L", s.ForwardRule(),
		"-i", s.IdentityFile,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", s.proxyCommand(),
		s.Target(),
	}
}

// exitArgs builds the follow-up command that asks the master process to
// terminate all sessions over the control socket.
func (s Spec) exitArgs() []string {
	return []string{"-S", s.ControlSocket, "-O", "exit", s.Target()}
}

// Start launches the backgrounded ssh master. With -f the command returns
// once the forward is established, leaving the master process and the
// claimed local port behind until Stop.
func Start(ctx context.Context, spec Spec) (*Tunnel, error) {
	cmd := commandCtx(ctx, sshBinary, spec.startArgs()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := runCommand(cmd); err != nil {
		return nil, fmt.Errorf("%s: %w", i18n.T("tunnel.error_start"), err)
	}
	return &Tunnel{spec: spec}, nil
}

// Stop sends the exit command to the control socket. The socket file itself
// is removed by ssh's own cleanup, not by us.
func (t *Tunnel) Stop(ctx context.Context) error {
	cmd := commandCtx(ctx, sshBinary, t.spec.exitArgs()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := runCommand(cmd); err != nil {
		return fmt.Errorf("%s: %w", i18n.T("tunnel.error_stop"), err)
	}
	return nil
}

// CheckDependencies verifies the external binaries before any other logic
// runs. The returned error carries installation guidance for whatever is
// missing; the caller reports it and exits non-zero.
func CheckDependencies() error {
	type dep struct {
		binary string
		hintID string
	}
	deps := []dep{
		{sshBinary, "deps.hint_ssh"},
		{awsBinary, "deps.hint_aws"},
		{sessionPluginBin, "deps.hint_plugin"},
	}

	var missing []string
	for _, d := range deps {
		if _, err := lookPath(d.binary); err != nil {
			missing = append(missing, fmt.Sprintf("  %s: %s", d.binary, i18n.T(d.hintID)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s\n%s", i18n.T("deps.error_missing"), strings.Join(missing, "\n"))
	}
	return nil
}
