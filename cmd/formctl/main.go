package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liamcoop/formrules/internal/logger"
)

func main() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FORMCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "formctl",
		Short: "Evaluate and check derived-field configs offline",
		Long: `formctl runs the derived-field evaluator and the form checks locally.
Config, values and form files may be YAML or JSON. Condition values are
strings; quote numbers in YAML ("18", not 18).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			logger.SetOutput(cmd.ErrOrStderr())
			logger.SetLevel(level)
			return nil
		},
	}

	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("log-level", "WARN", "log level written to stderr")
	_ = viper.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(evalCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(formCmd())
	return root
}
