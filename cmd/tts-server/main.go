// main package for the tts-server
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type serverFlags struct {
	configPath  string
	host        string
	port        int
	openBrowser bool
}

func newRootCommand() *cobra.Command {
	flags := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "tts-server",
		Short: "Gemini text-to-speech HTTP server",
		Long: `tts-server serves a web UI and a JSON API that turn text into speech
with the Gemini TTS models. Long texts are split into chunks, synthesized one
by one and returned as a single mp3, wav or flac file.

When nats.url is configured the same pipeline also consumes jobs from NATS.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&flags.host, "host", "", "override server.host")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "override server.port")
	cmd.Flags().BoolVar(&flags.openBrowser, "open-browser", false, "open the web UI after startup")

	return cmd
}

func main() {
	err := newRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server exited with error: %v\n", err)
		os.Exit(1)
	}
}
