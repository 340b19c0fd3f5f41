package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lightocr/ocrstream/cmd/ocrstream/ui"
	"github.com/lightocr/ocrstream/pkg/ocrstream"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the inference server is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		initUI()

		cfg, err := loadConfig(cmd.Root())
		if err != nil {
			return err
		}

		client, err := ocrstream.NewClient(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		sp := ui.NewSpinner("probing " + cfg.Server.URL + "...")
		sp.Start()
		err = client.Health(context.Background())
		sp.Stop()

		if err != nil {
			ui.Error("server is down: %v", err)
			return err
		}
		ui.Success("server is up at %s", cfg.Server.URL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
