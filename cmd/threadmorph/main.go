package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/quailyquaily/threadmorph/cmd/threadmorph/botcmd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	// .env is optional; environment variables win over its contents.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "threadmorph",
		Short:         "Slack assistant that proxies threads to Claude",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to config file")
	root.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().String("log-format", "", "log format (text|json)")

	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("THREADMORPH")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()

		if path, _ := root.PersistentFlags().GetString("config"); strings.TrimSpace(path) != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "read config: %v\n", err)
				os.Exit(1)
			}
		}

		_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
		_ = viper.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))
	})

	root.AddCommand(botcmd.NewCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
