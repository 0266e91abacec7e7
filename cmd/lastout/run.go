package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tolelom/lastout/config"
	"github.com/tolelom/lastout/logging"
	"github.com/tolelom/lastout/node"
	"github.com/tolelom/lastout/storage"
	"github.com/tolelom/lastout/wallet"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(v)
		},
	}
	cmd.Flags().Int("rpc-port", 0, "JSON-RPC listen port")
	cmd.Flags().String("data-dir", "", "chain database directory")
	cmd.Flags().String("log-level", "", "trace|debug|info|warn|error|critical")
	_ = v.BindPFlag("rpc_port", cmd.Flags().Lookup("rpc-port"))
	_ = v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
	return cmd
}

func runNode(v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logs, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logs.Close()
	node.UseLogging(logs)
	log := logs.Logger(logging.SubsystemNode)

	pass := password()
	if pass == "" {
		log.Warnf("%s not set, keystore will use an empty password", config.PasswordEnv)
	}
	privKey, err := wallet.LoadKey(v.GetString("key"), pass)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	n, err := node.New(cfg, db, privKey)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	log.Infof("Node %s running as %s on chain %s", cfg.NodeID, privKey.Address(), cfg.Genesis.ChainID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if err := n.Stop(); err != nil {
		log.Errorf("Stop: %v", err)
	}
	log.Info("Shutdown complete")
	return nil
}
