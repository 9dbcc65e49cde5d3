package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "hlkvd",
	Short: "demo and benchmark driver for the hlkv engine",
	Long: fmt.Sprintf(`hlkvd (v%s)

Serves, benchmarks, and demonstrates the embedded, concurrent,
log-structured key-value engine built in this module.`, version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print hlkvd's version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hlkvd v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().Uint64("buckets", 128, "initial hash bucket count")
	rootCmd.PersistentFlags().Int64("log-capacity", 16<<20, "resident log capacity in bytes")
	rootCmd.PersistentFlags().Int64("page-size", 1<<20, "resident page size in bytes")
	rootCmd.PersistentFlags().Float64("mutable-fraction", 0.5, "fraction of the resident log, counted back from the tail, open to in-place updates")
	rootCmd.PersistentFlags().String("log-level", "info", "log level for every hlkv package logger (debug, info, warn, error, off)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env/.env.local and wires viper to read HLKV_<FLAG>
// environment variables as overrides.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("hlkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindEngineFlags is the serve and bench commands' PreRunE: it makes the persistent
// engine-geometry flags (and the command's own flags) visible to viper,
// so HLKV_* env vars and flags resolve through the same GetX calls.
func bindEngineFlags(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.PersistentFlags())
}

// engineGeometry is the subset of engine.Options the serve and bench
// commands read off viper, independent of which kv family they then plug
// in.
type engineGeometry struct {
	buckets         uint64
	logCapacity     uint64
	pageSize        uint64
	mutableFraction float64
}

func geometryFromFlags() engineGeometry {
	return engineGeometry{
		buckets:         viper.GetUint64("buckets"),
		logCapacity:     uint64(viper.GetInt64("log-capacity")),
		pageSize:        uint64(viper.GetInt64("page-size")),
		mutableFraction: viper.GetFloat64("mutable-fraction"),
	}
}

// Execute runs rootCmd, whose subcommands init has already added. Called
// once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
