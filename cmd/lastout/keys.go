package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tolelom/lastout/config"
	"github.com/tolelom/lastout/crypto/certgen"
	"github.com/tolelom/lastout/wallet"
)

func newGenKeyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a validator key and write it to the keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := v.GetString("key")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("keystore %s already exists", path)
			}
			w, err := wallet.Generate(v.GetString("genesis.chain_id"))
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(path, password(), w.PrivKey()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\nSaved to: %s\n", w.Address(), path)
			return nil
		},
	}
}

func newInitConfigCmd(v *viper.Viper) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a single-validator development config",
		Long: "Writes the default config with the keystore's address as sole validator, " +
			"escrow owner, backend and genesis allocation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := wallet.LoadKey(v.GetString("key"), password())
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			addr := priv.Address()

			cfg := config.DefaultConfig()
			cfg.Validators = []string{addr}
			cfg.Genesis.Alloc[addr] = 1_000_000_000_000
			cfg.Genesis.Escrow.Owner = addr
			cfg.Genesis.Escrow.Backend = addr
			if err := cfg.Genesis.Escrow.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (validator %s)\n", out, addr)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "config.json", "output path")
	return cmd
}

func newGenCertsCmd(v *viper.Viper) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "gencerts",
		Short: "Generate a P2P CA and node certificate for mutual TLS",
		Long: "Writes ca.crt, ca.key, <node_id>.crt and <node_id>.key. Copy the CA pair " +
			"to every node that should join and point the tls section of each config at them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID := v.GetString("node_id")
			paths, err := certgen.GenerateAll(dir, nodeID, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tls.ca_cert:   %s\ntls.node_cert: %s\ntls.node_key:  %s\n",
				paths.CACert, paths.NodeCert, paths.NodeKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "certs", "output directory")
	return cmd
}
