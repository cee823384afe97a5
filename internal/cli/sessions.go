package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/client"
	"github.com/agentdeck/agentdeck/pkg/types"
)

func newSpawnCmd() *cobra.Command {
	var agent, model, dir string
	cmd := &cobra.Command{
		Use:   "spawn WORKSPACE_ID",
		Short: "Spawn an agent session for a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				dir = wd
			}
			c := client.New(serverAddr(cmd))
			info, err := c.SpawnSession(cmd.Context(), types.SpawnRequest{
				WorkspaceID: args[0],
				Agent:       agent,
				Model:       model,
				WorkingDir:  dir,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "spawned %s (%s, pid %d)\n", info.WorkspaceID, info.Agent, info.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "claude", "agent to launch")
	cmd.Flags().StringVar(&model, "model", "", "model override (agent default when empty)")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory (default: cwd)")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cmd))
			sessions, err := c.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WORKSPACE\tSTATE\tAGENT\tMODEL\tPID\tEXIT")
			for _, s := range sessions {
				exit := "-"
				if s.ExitCode != nil {
					exit = fmt.Sprintf("%d", *s.ExitCode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					s.WorkspaceID, s.State, s.Agent, s.Model, s.PID, exit)
			}
			return tw.Flush()
		},
	}
}

func newKillCmd() *cobra.Command {
	var reap bool
	cmd := &cobra.Command{
		Use:   "kill WORKSPACE_ID",
		Short: "Terminate a workspace's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cmd))
			if err := c.KillSession(cmd.Context(), args[0], reap); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reap, "reap", false, "remove the registry entry as well")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "restart WORKSPACE_ID",
		Short: "Restart a session, optionally switching model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cmd))
			info, err := c.RestartSession(cmd.Context(), args[0], model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restarted %s (model %s, pid %d)\n", info.WorkspaceID, info.Model, info.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "new model (keep current when empty)")
	return cmd
}

func newSendCmd() *cobra.Command {
	var newline bool
	cmd := &cobra.Command{
		Use:   "send WORKSPACE_ID TEXT",
		Short: "Send input to a session's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := args[1]
			if newline {
				data += "\n"
			}
			c := client.New(serverAddr(cmd))
			return c.SendInput(cmd.Context(), args[0], data)
		},
	}
	cmd.Flags().BoolVar(&newline, "newline", true, "append a trailing newline")
	return cmd
}
