package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentdeck",
		Short:         "agentdeck: workspace agent session orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("agentdeck {{.Version}}\n")

	cmd.PersistentFlags().String("server", getenvDefault("AGENTDECK_SERVER", "http://127.0.0.1:7420"), "agentdeck daemon base URL")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSpawnCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newKillCmd())
	cmd.AddCommand(newRestartCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newAttachCmd())
	cmd.AddCommand(newSecretCmd())

	return cmd
}

func serverAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Root().PersistentFlags().GetString("server")
	if addr == "" {
		addr = "http://127.0.0.1:7420"
	}
	return addr
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
