package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meshkv/meshkv/pkg/broadcast"
	"github.com/meshkv/meshkv/pkg/crdt"
	"github.com/meshkv/meshkv/pkg/dag"
	"github.com/meshkv/meshkv/pkg/keys"
	"github.com/meshkv/meshkv/pkg/metrics"
	"github.com/meshkv/meshkv/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a replica until interrupted",
	Long: `Run a meshkv replica: open the local store, start the CRDT
background tasks and serve Prometheus metrics until SIGINT/SIGTERM.

Without a networked broadcaster configured the replica runs in loopback
mode: broadcasts stay in-process, which is useful for local inspection
and as a wiring template.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		// the flag wins over the config file only when set explicitly
		if f := rootCmd.PersistentFlags().Lookup("data-dir"); f != nil && (f.Changed || cfg.DataDir == "") {
			cfg.DataDir = f.Value.String()
		}

		store, ds, broker, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer broker.Close()
		defer store.Close()

		fmt.Printf("meshkv replica running\n")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  Namespace: %s\n", cfg.Namespace)

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "open")
		metrics.RegisterComponent("broadcaster", true, "loopback")

		// Serve metrics and health in the background
		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				fmt.Printf("Metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("  Metrics: http://%s/metrics\n", cfg.MetricsAddr)
		fmt.Printf("  Health:  http://%s/health\n", cfg.MetricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("Shutting down...")
		return ds.Close()
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
}

// openStore wires a Bolt-backed datastore with an in-process broker.
func openStore(cfg *Config) (*storage.BoltStore, *crdt.Datastore, *broadcast.Broker, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	broker := broadcast.NewBroker()

	opts := crdt.DefaultOptions()
	opts.RebroadcastInterval = cfg.RebroadcastInterval
	opts.DAGSyncerTimeout = cfg.DAGSyncerTimeout
	opts.NumWorkers = cfg.NumWorkers

	ds, err := crdt.New(
		store,
		keys.New(cfg.Namespace),
		dag.NewStoreSyncer(store, nil),
		broker.Endpoint(),
		opts,
	)
	if err != nil {
		store.Close()
		broker.Close()
		return nil, nil, nil, fmt.Errorf("opening datastore: %w", err)
	}

	for _, t := range cfg.BroadcastTopics {
		ds.AddBroadcastTopic(t)
	}
	for _, t := range cfg.ListenTopics {
		if err := ds.AddListenTopic(t); err != nil {
			ds.Close()
			store.Close()
			broker.Close()
			return nil, nil, nil, err
		}
	}
	return store, ds, broker, nil
}
