package client

import (
	"github.com/spf13/cobra"

	"github.com/dkeye/Parley/internal/config"
)

// NewRootCmd builds the parley-client command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parley-client",
		Short:         "Parley peer agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSendCmd())
	return root
}

func newSendCmd() *cobra.Command {
	var opt LoopbackOptions
	cmd := &cobra.Command{
		Use:   "send <audio-file>",
		Short: "Translate an audio file and ship it across a loopback data channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opt.AudioPath = args[0]
			return RunLoopback(cmd.Context(), cfg, opt)
		},
	}
	cmd.Flags().StringVar(&opt.FromLang, "from", "en", "source language code")
	cmd.Flags().StringVar(&opt.ToLang, "to", "ru", "target language code")
	cmd.Flags().StringVarP(&opt.OutPath, "out", "o", "", "write the received audio to this file")
	cmd.Flags().BoolVar(&opt.NoTranslate, "no-translate", false, "skip the translation round trip")
	return cmd
}
