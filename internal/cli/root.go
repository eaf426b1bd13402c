// Package cli implements envmodelctl, a headless client that loads a
// persisted environment model and drives the same lifecycle operations as
// the editor.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mbp-platform/envmodel/internal/gateway"
)

type app struct {
	profilePath string
	baseURL     string
	owner       string
	verbose     bool
	noColor     bool
	yes         bool

	profile *Profile
	gw      gateway.Gateway
	lg      zerolog.Logger
}

// NewRootCommand builds the envmodelctl command tree. When gw is nil a REST
// client is built from the profile before each command runs.
func NewRootCommand(gw gateway.Gateway) *cobra.Command {
	a := &app{gw: gw, lg: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "envmodelctl",
		Short: "Manage environment models on an MBP backend",
		Long: `envmodelctl lists, exports and deletes persisted environment models and
runs register, deploy and undeploy against them without opening the editor.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.profilePath, "profile", "", "profile file (default "+DefaultProfilePath()+")")
	root.PersistentFlags().StringVar(&a.baseURL, "server", "", "MBP backend base URL")
	root.PersistentFlags().StringVar(&a.owner, "owner", "", "model owner")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log gateway traffic to stderr")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(a.modelsCommand())
	root.AddCommand(
		a.operationCommand("register", "Register every device, sensor and actuator of a model"),
		a.operationCommand("deploy", "Deploy every registered sensor and actuator of a model"),
		a.operationCommand("undeploy", "Undeploy every deployed sensor and actuator of a model"),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.profilePath
	if path == "" {
		path = DefaultProfilePath()
	}
	p, err := LoadProfile(path)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		p.Gateway.BaseURL = a.baseURL
	}
	if a.owner != "" {
		p.Owner = a.owner
	}
	a.profile = p

	if a.noColor || !p.Color {
		color.NoColor = true
	}

	level := zerolog.WarnLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.lg = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: color.NoColor}).
		Level(level).With().Timestamp().Logger()

	if a.gw != nil {
		return nil
	}
	client, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:  p.Gateway.BaseURL,
		Username: p.Gateway.Username,
		Password: p.Gateway.Password,
		Timeout:  p.Timeout(),
	}, a.lg.With().Str("component", "gateway").Logger())
	if err != nil {
		return fmt.Errorf("gateway client: %w", err)
	}
	a.gw = client
	return nil
}

// Execute runs envmodelctl and exits non-zero on error.
func Execute() {
	if err := NewRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, bad.Sprint("Error:"), err)
		os.Exit(1)
	}
}
