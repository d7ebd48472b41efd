// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command kvctl is an external client of the storage package: it never
// reaches into the store's internals, only through storage.IDB. It exists
// to exercise the store from outside the package the way any higher layer
// (block index, transaction store, token metadata store) would.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ledger-labs/chaindb/fault"
	"github.com/ledger-labs/chaindb/storage"
)

var (
	cfgFile   string
	indexFlag string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "inspect and edit a chaindb store from the command line",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.kvctl.yaml)")
	root.PersistentFlags().StringVar(&indexFlag, "index", "MAIN", "index name")

	root.AddCommand(newGetCommand())
	root.AddCommand(newPutCommand())
	root.AddCommand(newDelCommand())
	root.AddCommand(newListCommand())
	return root
}

func loadConfig() (storage.Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".kvctl")
		v.AddConfigPath("$HOME")
	}
	v.SetDefault("store.directory", "./chaindb-data")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return storage.Config{}, err
		}
	}
	return storage.LoadConfig(v, "store")
}

func resolveIndex(name string) (storage.Index, error) {
	for _, idx := range storage.AllIndexes() {
		if idx.String() == name {
			return idx, nil
		}
	}
	return 0, fault.ErrInvalidIndex
}

func openStore() (storage.IDB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg)
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "read every value stored for key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := resolveIndex(indexFlag)
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			values, err := db.ReadMultiple(idx, []byte(args[0]))
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return fmt.Errorf("key not found")
			}
			for _, v := range values {
				fmt.Println(string(v))
			}
			return nil
		},
	}
}

func newPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "write value for key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := resolveIndex(indexFlag)
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			return db.Write(idx, []byte(args[0]), []byte(args[1]))
		},
	}
}

func newDelCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "del <key>",
		Short: "erase key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := resolveIndex(indexFlag)
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if all {
				return db.EraseAll(idx, []byte(args[0]))
			}
			return db.Erase(idx, []byte(args[0]))
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "erase every value for the key, not just one")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every key/value pair in the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := resolveIndex(indexFlag)
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			all, err := db.ReadAll(idx)
			if err != nil {
				return err
			}
			for k, vs := range all {
				for _, v := range vs {
					fmt.Printf("%s\t%s\n", k, string(v))
				}
			}
			return nil
		},
	}
}
