package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harunnryd/voxstream/pkg/voxstream"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load defaults, the config file and environment overrides, validate
the result and print it as JSON. Provider secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(maskConfig(cfg), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var secretKeys = []string{"key", "secret", "token", "password"}

func maskConfig(cfg voxstream.Config) voxstream.Config {
	cfg.Speech.Settings = maskSettings(cfg.Speech.Settings)
	cfg.Generator.Settings = maskSettings(cfg.Generator.Settings)
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = "****"
	}
	return cfg
}

func maskSettings(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
		lower := strings.ToLower(k)
		for _, s := range secretKeys {
			if strings.Contains(lower, s) {
				out[k] = "****"
				break
			}
		}
	}
	return out
}
