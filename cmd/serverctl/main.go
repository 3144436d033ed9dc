package main

import (
	"fmt"
	"os"
	"time"

	"github.com/loykin/serverctl/pkg/client"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and attaches every subcommand to it.
func buildRoot(cmd command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.SilenceUsage = true

	root.AddCommand(
		createServeCommand(cmd, globalFlags),
		createListCommand(cmd, globalFlags),
		createActiveCommand(cmd, globalFlags),
		createStartCommand(cmd, globalFlags),
		createStopCommand(cmd, globalFlags),
		createForceStopCommand(cmd, globalFlags),
		createStopInfoCommand(cmd, globalFlags),
		createStatusCommand(cmd, globalFlags),
		createDetailsCommand(cmd, globalFlags),
		createExtractCommand(cmd, globalFlags),
		createExtractStatusCommand(cmd),
		createExtractCleanupCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "serverctl",
		Short: "Application server lifecycle tool",
		Long: `serverctl finds application-server installations under a base directory,
tells which one owns the HTTP port, starts and stops them, reports deployment
readiness and extracts uploaded archives.

Examples:
  serverctl list --config=serverctl.toml
  serverctl start jboss-app1
  serverctl stop --port=8080 --timeout=120
  serverctl serve                   # Start the REST API`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional, SERVERCTL_* env vars apply)")
	return root
}

func createServeCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the serverctl REST API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, cancel := signalContext()
			defer cancel()
			return c.Serve(ctx, path)
		},
	}
}

func createListCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installations and mark the running one",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.List(globalFlags.ConfigPath)
		},
	}
}

func createActiveCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the process that owns the configured port",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Active(globalFlags.ConfigPath)
		},
	}
}

func createStartCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start an installation via its startup script",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.Start(globalFlags.ConfigPath, ServerFlags{Name: args[0]})
		},
	}
}

func createStopCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server listening on a port",
		Long: `Stop the server listening on a port, escalating from a management
shutdown request to signals and finally a forced kill.

Examples:
  serverctl stop                    # configured port, configured timeout
  serverctl stop --port=8080 --timeout=60 --confirm`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Stop(globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to free (default servers.port)")
	cmd.Flags().IntVar(&f.Timeout, "timeout", 0, "stop budget in seconds, 10-600 (default servers.stop_timeout)")
	cmd.Flags().BoolVar(&f.Confirm, "confirm", false, "stop at a batch-job confirmation prompt instead of answering it")
	return cmd
}

func createForceStopCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "force-stop",
		Short: "Stop with the minimum timeout",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.ForceStop(globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to free (default servers.port)")
	return cmd
}

func createStopInfoCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop-info",
		Short: "Preview what a stop would terminate",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.StopInfo(globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to inspect (default servers.port)")
	return cmd
}

func createStatusCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Classify the deployment status of an installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.Status(globalFlags.ConfigPath, ServerFlags{Name: args[0]})
		},
	}
}

func createDetailsCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "details <name>",
		Short: "List deployment marker files of an installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.Details(globalFlags.ConfigPath, ServerFlags{Name: args[0]})
		},
	}
}

func createExtractCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ExtractFlags{}
	cmd := &cobra.Command{
		Use:   "extract <archive.zip>",
		Short: "Extract a zip archive into a sibling directory",
		Long: `Extract a zip archive into a directory named after it.

Examples:
  serverctl extract ./app.zip                       # run here and wait
  serverctl extract /srv/ServerZip/app.zip --api-url=http://host:8090/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f.ZipPath = args[0]
			return c.Extract(globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().DurationVar(&f.Wait, "wait", DefaultExtractWait, "how long to wait for a local extraction")
	addAPIFlags(cmd, &f.APIFlags, "", "queue on a running daemon (e.g. "+client.DefaultBaseURL+")")
	return cmd
}

func createExtractStatusCommand(c command) *cobra.Command {
	f := &TaskFlags{}
	cmd := &cobra.Command{
		Use:   "extract-status <task-id>",
		Short: "Show an extraction task held by the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f.ID = args[0]
			return c.ExtractStatus(*f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags, client.DefaultBaseURL, "daemon URL")
	return cmd
}

func createExtractCleanupCommand(c command) *cobra.Command {
	f := &TaskFlags{}
	cmd := &cobra.Command{
		Use:   "extract-cleanup <task-id>",
		Short: "Remove a finished extraction task from the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f.ID = args[0]
			return c.ExtractCleanup(*f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags, client.DefaultBaseURL, "daemon URL")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags, defURL, urlUsage string) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", defURL, urlUsage)
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.APICACert, "api-ca-cert", "", "CA certificate for an HTTPS daemon")
	cmd.Flags().BoolVar(&f.APIInsecure, "api-insecure", false, "skip TLS verification")
}
