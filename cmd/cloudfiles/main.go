package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const envPrefix = "CLOUDFILES_"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the cloudfiles command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudfiles",
		Short: "Cloud Files command line client",
		Long: `Cloud Files command line client.

Credentials and endpoints are read from CLOUDFILES_* environment variables
(CLOUDFILES_USERNAME, CLOUDFILES_API_KEY, CLOUDFILES_IDENTITY_URL, ...) and
may be overridden with flags.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("identity-url", "", "identity v2.0 endpoint")
	flags.String("username", "", "account user")
	flags.String("api-key", "", "API key")
	flags.String("region", "", "catalog region")
	flags.Bool("servicenet", false, "use internal URLs for storage calls")
	flags.BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewInfoCommand())
	rootCmd.AddCommand(NewContainersCommand())
	rootCmd.AddCommand(NewMkdirCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewPutCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewDeleteCommand())
	rootCmd.AddCommand(NewTempURLCommand())
	rootCmd.AddCommand(NewCDNCommand())

	return rootCmd
}

// NewClientFromFlags loads CLOUDFILES_* settings, applies flag overrides and
// builds a client.
func NewClientFromFlags(cmd *cobra.Command) (*cloudfiles.Client, error) {
	flags := cmd.Flags()
	verbose, _ := flags.GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []config.Option{config.WithEnv(envPrefix)}
	if v, _ := flags.GetString("identity-url"); v != "" {
		opts = append(opts, config.WithIdentityURL(v))
	}
	username, _ := flags.GetString("username")
	apiKey, _ := flags.GetString("api-key")
	if username != "" && apiKey != "" {
		opts = append(opts, config.WithAPIKey(username, apiKey))
	}
	if v, _ := flags.GetString("region"); v != "" {
		opts = append(opts, config.WithRegion(v))
	}
	if flags.Changed("servicenet") {
		v, _ := flags.GetBool("servicenet")
		opts = append(opts, config.WithServiceNet(v))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.BuildClient(logger, nil)
}
