package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskflow/internal/config"
	"taskflow/internal/session"
	"taskflow/internal/taskerr"
)

// errNotSignedIn is returned by protected commands when no credential is held.
var errNotSignedIn = errors.New("not signed in: run `taskflow login` first")

// options carries global flags and the wired app between commands.
type options struct {
	configFile string
	apiURL     string
	dbPath     string
	verbose    bool

	app *app
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "taskflow",
		Short: "taskflow - client for the task service",
		Long: `taskflow signs in to a remote task service and manages your tasks
from the command line or through a local web client (taskflow serve).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&opts.apiURL, "api-url", "", "Task service API URL (overrides config)")
	flags.StringVar(&opts.dbPath, "db", "", "Local storage database path (overrides config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(loginCmd(opts))
	rootCmd.AddCommand(logoutCmd(opts))
	rootCmd.AddCommand(registerCmd(opts))
	rootCmd.AddCommand(whoamiCmd(opts))
	rootCmd.AddCommand(tasksCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute(version string) error {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", explain(err))
		return err
	}
	return nil
}

// setup loads configuration and wires the app once per invocation.
func (o *options) setup(cmd *cobra.Command) error {
	if o.app != nil {
		return nil
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.dbPath != "" {
		cfg.Storage.DBPath = o.dbPath
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}

	a, err := newApp(cfg, cfg.NewLogger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	o.app = a
	return nil
}

func (o *options) close() error {
	if o.app == nil {
		return nil
	}
	err := o.app.Close()
	o.app = nil
	return err
}

// requireSession gates a protected command the way the web client gates a route.
func (o *options) requireSession(cmd *cobra.Command) error {
	if err := o.setup(cmd); err != nil {
		return err
	}
	if d := o.app.gate.Enter(); d.State != session.Authorized {
		return errNotSignedIn
	}
	return nil
}

// explain turns failure kinds into guidance for the terminal.
func explain(err error) error {
	switch taskerr.KindOf(err) {
	case taskerr.Unauthorized:
		return fmt.Errorf("session expired or not signed in: run `taskflow login` (%w)", err)
	case taskerr.Busy:
		return fmt.Errorf("another change to this task is still running, try again (%w)", err)
	case taskerr.Unavailable:
		return fmt.Errorf("task service unavailable (%w)", err)
	default:
		return err
	}
}
