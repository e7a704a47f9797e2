package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// defaultHealthcheckPort はSERVER_PORTが未設定のときのヘルスチェック先ポート。
const defaultHealthcheckPort = "8080"

// NewRootCommand はazaroleのコマンドツリーを生成する。
// サブコマンドを省略した場合はserveとして起動する。
// wはログの出力先。
func NewRootCommand(w io.Writer) *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := Init(w, configPath)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	}

	root := &cobra.Command{
		Use:           "azarole",
		Short:         "Attendance tracking API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (default $AZAROLE_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := Init(w, configPath)
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	})

	// healthcheck はdistrolessイメージのDockerヘルスチェック用。設定は読み込まない。
	var port string
	healthcheck := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runHealthcheck(port)
		},
	}
	healthcheck.Flags().StringVar(&port, "port", envOr("SERVER_PORT", defaultHealthcheckPort), "port of the running server")
	root.AddCommand(healthcheck)

	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
