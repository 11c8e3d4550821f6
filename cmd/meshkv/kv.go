package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshkv/meshkv/pkg/crdt"
)

// withLocalStore opens the datastore in loopback mode, runs fn against
// it and tears everything down again. The key-value subcommands operate
// purely on the local replica state.
func withLocalStore(fn func(ds *crdt.Datastore) error) error {
	dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	store, ds, broker, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()
	defer store.Close()
	defer ds.Close()

	return fn(ds)
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store a value under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalStore(func(ds *crdt.Datastore) error {
			return ds.Put(args[0], []byte(args[1]))
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read the value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalStore(func(ds *crdt.Datastore) error {
			value, err := ds.Get(args[0])
			if errors.Is(err, crdt.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "not found: %s\n", args[0])
				os.Exit(1)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", value)
			return nil
		})
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalStore(func(ds *crdt.Datastore) error {
			return ds.Delete(args[0])
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List observable key-value pairs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		return withLocalStore(func(ds *crdt.Datastore) error {
			it, err := ds.Query(prefix)
			if err != nil {
				return err
			}
			defer it.Close()
			for {
				key, value, ok, err := it.Next()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				fmt.Printf("%s\t%s\n", key, value)
			}
		})
	},
}

var dagCmd = &cobra.Command{
	Use:   "dag",
	Short: "Print the local Merkle-DAG",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalStore(func(ds *crdt.Datastore) error {
			return ds.PrintDAG(os.Stdout)
		})
	},
}
