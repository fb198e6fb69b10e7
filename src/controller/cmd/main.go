// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sdn-microsegment/src/controller/pkg/config"
	"github.com/sdn-microsegment/src/controller/pkg/controller"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
	"github.com/sdn-microsegment/src/controller/pkg/store"
)

var (
	configPath string
	logLevel   string
	dbDriver   string
	dbDSN      string
	enableAPI  bool
	apiHost    string
	apiPort    int
	enableOVS  bool
	osType     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sdn-controller",
	Short: "SDN microsegmentation controller",
	Long: `An SDN controller add-on that discovers hosts from ARP traffic, groups them
by operating system and keeps group-based firewall flows installed on every
connected switch`,
	SilenceUsage: true,
	RunE:         runController,
}

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Print the compiled flow set for the current store",
	Long:  `Compile the rules and groups in the policy store and print the resulting flow entries and warnings without touching any switch`,
	RunE:  runFlows,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	pf.StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&dbDriver, "db-driver", "", "Policy store driver (sqlite3, mysql)")
	pf.StringVar(&dbDSN, "db", "", "Policy store DSN (SQLite path or MySQL DSN)")

	rootCmd.Flags().BoolVarP(&enableAPI, "enable-api", "a", true, "Enable operational REST API server")
	rootCmd.Flags().StringVar(&apiHost, "api-host", "", "API server host")
	rootCmd.Flags().IntVar(&apiPort, "api-port", 0, "API server port")
	rootCmd.Flags().BoolVar(&enableOVS, "ovs", false, "Drive local Open vSwitch bridges")
	rootCmd.Flags().StringVar(&osType, "os-type", "", "OS type reported for discovered hosts")

	flowsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the compile result as JSON")
	rootCmd.AddCommand(flowsCmd)
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("db-driver") {
		cfg.Store.Driver = dbDriver
	}
	if flags.Changed("db") {
		cfg.Store.DSN = dbDSN
	}
	if flags.Changed("enable-api") {
		cfg.API.Enabled = enableAPI
	}
	if flags.Changed("api-host") {
		cfg.API.Host = apiHost
	}
	if flags.Changed("api-port") {
		cfg.API.Port = apiPort
	}
	if flags.Changed("ovs") {
		cfg.OVS.Enabled = enableOVS
	}
	if flags.Changed("os-type") {
		cfg.Discovery.OSType = osType
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	log.Infof("Starting SDN controller with %s store %s", cfg.Store.Driver, cfg.Store.DSN)

	ctrl, err := controller.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	defer ctrl.Stop()

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	if cfg.API.Enabled {
		log.Infof("✓ API server started on http://%s:%d", cfg.API.Host, cfg.API.Port)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Info("✓ Controller running. Press Ctrl+C to exit")

	<-sig
	log.Info("Shutting down...")
	return nil
}

func runFlows(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	sc := cfg.Store
	sc.ReadOnly = true
	st, err := store.Open(sc, nil)
	if err != nil {
		return fmt.Errorf("failed to open policy store: %w", err)
	}
	defer st.Close()

	res, err := policy.Snapshot(context.Background(), st)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, jsonOutput)
}

func printResult(w io.Writer, res policy.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tPRIORITY\tMATCH\tACTION")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", e.RuleID, e.Priority, e.Match, e.Verdict)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %v\n", warn)
	}
	fmt.Fprintln(w, res.Summary())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
