package commands

import (
	"github.com/spf13/cobra"

	"github.com/harunnryd/voxstream/pkg/voxstream"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "voxstream",
	Short: "Streaming text and speech responses over SSE",
	Long: `voxstream drives a response generator, splits its output into
sentences, synthesizes them and pushes text and audio to the client as
server-sent events.

Configuration is read from the file given with --config and can be
overridden with VOXSTREAM_* environment variables, for example
VOXSTREAM_SPEECH_VOICE_OVERRIDE or VOXSTREAM_CACHE_BACKEND.

Examples:
  voxstream serve --config voxstream.yaml
  voxstream config
  voxstream listen "where is my order?" --audio`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, configCmd, listenCmd)
}

func loadConfig() (voxstream.Config, error) {
	return voxstream.LoadConfig(configPath)
}
