// Package configutil resolves settings that can come from either a cobra
// flag or a viper key. An explicitly set flag wins over the config file
// and environment.
package configutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		if cmd == nil {
			return ""
		}
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	return viper.GetString(viperKey)
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetBool(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		if cmd == nil {
			return false
		}
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	return viper.GetBool(viperKey)
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetInt(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		if cmd == nil {
			return 0
		}
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	return viper.GetInt(viperKey)
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetDuration(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey == "" {
		if cmd == nil {
			return 0
		}
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	return viper.GetDuration(viperKey)
}
