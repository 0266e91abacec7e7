// Command lastout runs an escrow validator node for the "last one out
// loses" game and manages its keys and configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tolelom/lastout/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	root := &cobra.Command{
		Use:           "lastout",
		Short:         "Escrow and settlement chain for last-one-out games",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (JSON or YAML)")
	root.PersistentFlags().String("key", "validator.key", "path to keystore file")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("key", root.PersistentFlags().Lookup("key"))

	root.AddCommand(newRunCmd(v), newGenKeyCmd(v), newInitConfigCmd(v), newGenCertsCmd(v))
	return root
}

// password reads the keystore password from the environment; flags would
// leak it through the process list.
func password() string {
	return os.Getenv(config.PasswordEnv)
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	return config.Load(v, v.GetString("config"))
}
