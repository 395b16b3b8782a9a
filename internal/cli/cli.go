// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// cli.go sets up the command-line interface for rds-proxy using the Cobra
// library. It defines the root command (the tunnel itself), subcommands
// (check, config, history), flags, and the main entry point for execution.
package cli

import (
	"errors"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2instanceconnect"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/spf13/cobra"

	"github.com/metosin/aws-tools/buildvars"
	"github.com/metosin/aws-tools/internal/config"
	"github.com/metosin/aws-tools/internal/db"
	"github.com/metosin/aws-tools/internal/i18n"
	"github.com/metosin/aws-tools/internal/logging"
	"github.com/metosin/aws-tools/internal/portpick"
	"github.com/metosin/aws-tools/internal/resolve"
	"github.com/metosin/aws-tools/internal/session"
	"github.com/metosin/aws-tools/internal/tunnel"
)

var (
	cfgFile   string
	appConfig config.Config

	// flag targets for the root command
	flagDBID       string
	flagJumpHost   string
	flagLocalPort  int
	flagRandomPort bool
)

// configDefaults are used when a setting is neither in the config file,
// the environment, nor the flags.
var configDefaults = map[string]any{
	"ssh_user": "ec2-user",
	"language": "en",
}

// checkExternalDeps is a test seam over the external-binary check.
var checkExternalDeps = tunnel.CheckDependencies

var rootCmd *cobra.Command

func init() {
	rootCmd = NewRootCmd()
}

// Execute runs the root command. It is the single entry point used by main.
func Execute() error {
	return rootCmd.Execute()
}

// NewRootCmd creates and configures a new root cobra command. This function
// is used to create the main application command as well as fresh instances
// for isolated testing.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rds-proxy",
		Short: "Open a temporary tunnel to a private RDS endpoint via a bastion",
		Long: `rds-proxy opens an authenticated TCP tunnel from a local port to a
private RDS database endpoint, hopping through a bastion instance that is
reachable only via AWS Session Manager. Credentials are ephemeral: a fresh
SSH key pair is generated per run, pushed with EC2 Instance Connect, and
deleted when the tunnel closes.

The tunnel stays up until you press a key.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadConfig(cmd, configDefaults, &cfgFile)
			if err != nil {
				return errors.New(i18n.T("cli.error_config", err))
			}
			appConfig = c
			i18n.Init(appConfig.Language)
			logging.SetDebug(appConfig.Debug)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runTunnel(cmd)
		},
	}

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newHistoryCmd())

	cmd.Version = buildvars.VersionOrDefault("dev")

	cmd.Flags().StringVarP(&flagDBID, "db-id", "d", "", "RDS database instance identifier")
	cmd.Flags().StringVarP(&flagJumpHost, "jump-host", "j", "", "Name tag of the bastion instance")
	cmd.Flags().IntVarP(&flagLocalPort, "local-port", "l", portpick.DefaultPort, "Local port to bind the tunnel to")
	cmd.Flags().BoolVarP(&flagRandomPort, "random-port", "r", false, "Derive the local port from the database identifier")
	_ = cmd.MarkFlagRequired("db-id")
	_ = cmd.MarkFlagRequired("jump-host")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user-config>/rds-proxy/rds-proxy.yaml)")
	cmd.PersistentFlags().String("region", "", "AWS region")
	cmd.PersistentFlags().String("profile", "", "AWS shared config profile")
	cmd.PersistentFlags().String("ssh-user", "ec2-user", "Login user on the bastion")
	cmd.PersistentFlags().String("lang", "en", `Message language ("en", "de")`)
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	return cmd
}

// runTunnel wires the AWS clients and hands the whole run to the session
// package. Any failure aborts the invocation.
func runTunnel(cmd *cobra.Command) error {
	ctx := cmd.Context()

	// A missing external binary is reported before any directory, AWS or
	// history setup, so the failure has guidance and no side effects.
	if err := checkExternalDeps(); err != nil {
		return err
	}

	dir, err := config.Dir()
	if err != nil {
		return errors.New(i18n.T("cli.error_dir", err))
	}

	awsCfg, err := resolve.LoadAWSConfig(ctx, appConfig.Region, appConfig.Profile)
	if err != nil {
		return errors.New(i18n.T("cli.error_aws_config", err))
	}

	// History is best-effort; a broken database must not block a tunnel.
	var history *db.HistoryStore
	if h, err := db.OpenHistory(historyPath(dir)); err != nil {
		logging.Warn(i18n.T("session.warn_history", err))
	} else {
		history = h
		defer history.Close()
	}

	runner := &session.Runner{
		Params: session.Params{
			DBIdentifier: flagDBID,
			JumpHost:     flagJumpHost,
			LocalPort:    flagLocalPort,
			RandomPort:   flagRandomPort,
		},
		Config:    appConfig,
		Dir:       dir,
		Instances: ec2.NewFromConfig(awsCfg),
		Databases: rds.NewFromConfig(awsCfg),
		KeySender: ec2instanceconnect.NewFromConfig(awsCfg),
		History:   history,
	}

	if err := runner.Run(ctx); err != nil {
		return errors.New(i18n.T("cli.error_run", err))
	}
	return nil
}

// historyPath returns the location of the session history database.
func historyPath(dir string) string {
	return filepath.Join(dir, "history.db")
}

// newCheckCmd verifies the external collaborators rds-proxy shells out to.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify external dependencies (ssh, aws, session-manager-plugin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := checkExternalDeps(); err != nil {
				return err
			}
			cmd.Println(i18n.T("check.ok"))
			return nil
		},
	}
}

// newConfigCmd persists the effective settings, so region, profile and
// login user do not have to be repeated on every invocation.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Write the effective settings to the user config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := config.WriteConfigFile(&appConfig, false); err != nil {
				return errors.New(i18n.T("cli.error_config_write", err))
			}
			path, err := config.Path(false)
			if err != nil {
				return errors.New(i18n.T("cli.error_config_write", err))
			}
			cmd.Println(i18n.T("cli.config_saved", path))
			return nil
		},
	}
}

// newHistoryCmd lists recent tunnel sessions from the local history store.
func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent tunnel sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			dir, err := config.Dir()
			if err != nil {
				return errors.New(i18n.T("cli.error_dir", err))
			}
			store, err := db.OpenHistory(historyPath(dir))
			if err != nil {
				return errors.New(i18n.T("history.error_open", err))
			}
			defer store.Close()

			sessions, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return errors.New(i18n.T("history.error_query", err))
			}
			if len(sessions) == 0 {
				cmd.Println(i18n.T("history.none"))
				return nil
			}
			for _, s := range sessions {
				printSession(cmd, s)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to show")
	return cmd
}

// printSession renders one history row as a single line.
func printSession(cmd *cobra.Command, s db.TunnelSessionModel) {
	ended := "-"
	if s.EndedAt != nil {
		ended = s.EndedAt.Format("2006-01-02 15:04")
	}
	cmd.Printf("%s  %-12s  %s -> :%d via %s (%s), ended %s\n",
		s.StartedAt.Format("2006-01-02 15:04"),
		s.Status,
		s.DBIdentifier,
		s.LocalPort,
		s.JumpHost,
		s.InstanceID,
		ended,
	)
}
