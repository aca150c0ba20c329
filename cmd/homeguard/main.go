package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"homeguard/internal/config"
	"homeguard/internal/logging"
	"homeguard/internal/rules"
	"homeguard/internal/storage"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "homeguard",
	Short: "Home security rule engine",
	Long: `homeguard turns detection events from cameras and sensors into alerts.
Rules pair one condition (face, behavior, device or time of day) with a
sensitivity and a list of actions (notification, light, speaker, alarm,
police). 'homeguard serve' runs the engine; the other commands manage rules
directly in the configured storage.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HOMEGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override log_level from the config")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// --- helpers ---

// loadManager reads the file named by --config (or HOMEGUARD_CONFIG). Without
// one the defaults are used.
func loadManager() (*config.Manager, error) {
	path := viper.GetString("config")
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(path))
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if override := viper.GetString("log-level"); override != "" {
		level = override
	}
	return logging.NewLogger(level, cfg.LogFormat)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s storage: %w", cfg.Storage.Driver, err)
	}
	return store, nil
}

// volatileStore reports whether store keeps its data only in process memory,
// whatever spelling of the driver name selected it.
func volatileStore(store storage.Store) bool {
	_, ok := store.(*storage.Memory)
	return ok
}

// withRules opens the configured storage and hands a freshly loaded rule
// store to fn.
func withRules(ctx context.Context, fn func(context.Context, *rules.Store, storage.Store) error) error {
	mgr, err := loadManager()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, mgr.Get())
	if err != nil {
		return err
	}
	defer store.Close()
	rs := rules.NewStore(store, rules.WithMaxAge(0))
	if err := rs.Refresh(ctx); err != nil {
		return err
	}
	return fn(ctx, rs, store)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
