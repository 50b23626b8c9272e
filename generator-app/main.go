package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/casters-pixels/generator/generator-app/config"
	"github.com/casters-pixels/generator/log"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "generator",
		Short: "Casters Pixels Generator",
		Long:  banner + "\n\nA generation client daemon for the Casters Pixels contract.",
		RunE:  runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE:  runConfig,
	}
)

const banner = `
 ██████╗ █████╗ ███████╗████████╗███████╗██████╗ ███████╗
██╔════╝██╔══██╗██╔════╝╚══██╔══╝██╔════╝██╔══██╗██╔════╝
██║     ███████║███████╗   ██║   █████╗  ██████╔╝███████╗
██║     ██╔══██║╚════██║   ██║   ██╔══╝  ██╔══██╗╚════██║
╚██████╗██║  ██║███████║   ██║   ███████╗██║  ██║███████║
 ╚═════╝╚═╝  ╚═╝╚══════╝   ╚═╝   ╚══════╝╚═╝  ╚═╝╚══════╝

██████╗ ██╗██╗  ██╗███████╗██╗     ███████╗
██╔══██╗██║╚██╗██╔╝██╔════╝██║     ██╔════╝
██████╔╝██║ ╚███╔╝ █████╗  ██║     ███████╗
██╔═══╝ ██║ ██╔██╗ ██╔══╝  ██║     ╚════██║
██║     ██║██╔╝ ██╗███████╗███████╗███████║
╚═╝     ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝`

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	cobra.OnInitialize(initConfig)

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config",
		"generator-app/configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// API flags
	rootCmd.PersistentFlags().String("listen-addr", "", "HTTP API listen address")

	// RPC flags
	rootCmd.PersistentFlags().String("rpc-endpoint", "", "JSON-RPC endpoint URL")

	// User flags
	rootCmd.PersistentFlags().String("user-address", "", "wallet address the daemon acts for")

	// Metrics flags
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "generator-app/configs/config.yaml"
	}
}

func runApp(cmd *cobra.Command, _ []string) error {
	fmt.Println(banner)
	fmt.Println()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(cmd, cfg)

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("listen_addr", cfg.API.ListenAddr).
		Str("user", cfg.User.Address).
		Uint64("chain_id", cfg.Chain.ChainID).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Println(banner)
	fmt.Println()
	fmt.Printf("Casters Pixels Generator\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("rpc-endpoint").Changed {
		cfg.RPC.Endpoint, _ = cmd.Flags().GetString("rpc-endpoint")
	}
	if cmd.Flag("user-address").Changed {
		cfg.User.Address, _ = cmd.Flags().GetString("user-address")
	}
	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
}
