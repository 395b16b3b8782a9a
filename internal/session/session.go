// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Package session orchestrates one tunnel run end to end: resolve the
// bastion and the database, provision the ephemeral credential, start the
// forward, block until the operator asks for teardown, then close the
// tunnel and delete the key material. The flow is strictly sequential and
// fail-fast: the first error before the tunnel is up aborts the run with
// no retries and no rollback of already-created resources.
package session

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/metosin/aws-tools/internal/config"
	"github.com/metosin/aws-tools/internal/db"
	"github.com/metosin/aws-tools/internal/i18n"
	"github.com/metosin/aws-tools/internal/keys"
	"github.com/metosin/aws-tools/internal/logging"
	"github.com/metosin/aws-tools/internal/portpick"
	"github.com/metosin/aws-tools/internal/resolve"
	"github.com/metosin/aws-tools/internal/tunnel"
)

// Params are the per-invocation inputs from the command line.
type Params struct {
	DBIdentifier string
	JumpHost     string
	LocalPort    int
	RandomPort   bool
}

// stopper is the part of a started tunnel the session needs back.
type stopper interface {
	Stop(ctx context.Context) error
}

// test seams, overridden in unit tests
var (
	startTunnel = func(ctx context.Context, spec tunnel.Spec) (stopper, error) {
		return tunnel.Start(ctx, spec)
	}
	checkDependencies = tunnel.CheckDependencies
	enterRaw          = enterRawMode
	waitForExit       = func(raw bool) error { return WaitForKeypress(os.Stdin, raw) }
)

// Runner holds the collaborators for one tunnel session. All AWS clients
// are narrow interfaces so tests can fake them.
type Runner struct {
	Params    Params
	Config    config.Config
	Dir       string // per-user rds-proxy directory
	Instances resolve.InstanceDescriber
	Databases resolve.DatabaseDescriber
	KeySender keys.PublicKeySender
	History   *db.HistoryStore // optional; best-effort bookkeeping
}

// Run executes the whole session. It returns once the tunnel has been torn
// down (operator keypress or signal), or as soon as any earlier step fails.
func (r *Runner) Run(ctx context.Context) error {
	// The plugin check runs before any other logic so a missing dependency
	// is reported with guidance instead of a confusing ssh failure later.
	if err := checkDependencies(); err != nil {
		return err
	}

	localPort := portpick.Choose(r.Params.DBIdentifier, r.Params.LocalPort, r.Params.RandomPort)

	logging.Info(i18n.T("session.resolving", r.Params.JumpHost, r.Params.DBIdentifier))
	jumpHost, err := resolve.FindJumpHost(ctx, r.Instances, r.Params.JumpHost)
	if err != nil {
		return fmt.Errorf("%s: %w", i18n.T("session.error_resolve_jump_host"), err)
	}
	database, err := resolve.FindDatabase(ctx, r.Databases, r.Params.DBIdentifier)
	if err != nil {
		return fmt.Errorf("%s: %w", i18n.T("session.error_resolve_database"), err)
	}
	logging.Debugf("resolved %s in %s, endpoint %s:%d",
		jumpHost.InstanceID, jumpHost.AvailabilityZone, database.Address, database.Port)

	logging.Info(i18n.T("session.provisioning", jumpHost.InstanceID))
	keyPath, err := keys.Provision(ctx, r.KeySender, r.Dir, jumpHost.InstanceID, jumpHost.AvailabilityZone, r.Config.SSHUser)
	if err != nil {
		return err
	}

	spec := tunnel.Spec{
		ControlSocket: tunnel.ControlSocketPath(r.Dir, r.Params.DBIdentifier),
		LocalPort:     localPort,
		DBAddress:     database.Address,
		DBPort:        database.Port,
		InstanceID:    jumpHost.InstanceID,
		User:          r.Config.SSHUser,
		IdentityFile:  keyPath,
		Region:        r.Config.Region,
		Profile:       r.Config.Profile,
	}

	tun, err := startTunnel(ctx, spec)
	if err != nil {
		return err
	}

	historyID := r.recordStart(ctx, jumpHost.InstanceID, localPort)

	fmt.Println(i18n.T("session.tunnel_ready", localPort, r.Params.DBIdentifier))
	fmt.Println(i18n.T("session.press_any_key"))

	// Block on operator input, but also tear down on SIGINT/SIGTERM so an
	// interrupted run does not leave a live tunnel and stale key files.
	status := r.waitForTeardown()

	logging.Info(i18n.T("session.closing"))
	var firstErr error
	if err := tun.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := keys.RemovePair(r.Dir); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to remove key files: %w", err)
	}
	r.recordEnd(ctx, historyID, status)

	if firstErr != nil {
		return firstErr
	}
	logging.Info(i18n.T("session.closed"))
	return nil
}

// waitForTeardown blocks until a keypress or a termination signal and
// returns the history status the run should be closed with. Raw mode is
// entered and left here, not in the reader goroutine: on the signal path
// the reader is still blocked in its read when teardown starts, and the
// terminal must be restored before the process exits.
func (r *Runner) waitForTeardown() string {
	restore, raw := enterRaw(os.Stdin)
	defer restore()

	exited := make(chan error, 1)
	go func() { exited <- waitForExit(raw) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		return db.StatusInterrupted
	case <-exited:
		return db.StatusClosed
	}
}

// recordStart writes the session row. History is best-effort: on failure
// it logs and the tunnel continues.
func (r *Runner) recordStart(ctx context.Context, instanceID string, localPort int) int64 {
	if r.History == nil {
		return 0
	}
	id, err := r.History.RecordStart(ctx, r.Params.DBIdentifier, r.Params.JumpHost, instanceID, localPort, defaultClock.Now())
	if err != nil {
		logging.Warn(i18n.T("session.warn_history", err))
		return 0
	}
	return id
}

func (r *Runner) recordEnd(ctx context.Context, id int64, status string) {
	if r.History == nil || id == 0 {
		return
	}
	if err := r.History.RecordEnd(ctx, id, status, defaultClock.Now()); err != nil {
		logging.Warn(i18n.T("session.warn_history", err))
	}
}
