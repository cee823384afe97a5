package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/agentdeck/agentdeck/internal/client"
	"github.com/agentdeck/agentdeck/pkg/types"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach WORKSPACE_ID",
		Short: "Attach the terminal to a session's live stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return attach(cmd, args[0])
		},
	}
}

func attach(cmd *cobra.Command, workspaceID string) error {
	c := client.New(serverAddr(cmd))

	conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), c.StreamURL(workspaceID), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream dial: %s", resp.Status)
		}
		return fmt.Errorf("stream dial: %w", err)
	}
	defer conn.Close()

	stdinFD := int(os.Stdin.Fd())
	interactive := term.IsTerminal(stdinFD)
	if interactive {
		state, err := term.MakeRaw(stdinFD)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(stdinFD, state) }()

		sendResize := func() {
			cols, rows, err := term.GetSize(stdinFD)
			if err != nil || cols <= 0 || rows <= 0 {
				return
			}
			msg, _ := json.Marshal(map[string]any{"type": "resize", "rows": rows, "cols": cols})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
		sendResize()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, unix.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				sendResize()
			}
		}()
	}

	// stdin -> session input.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Session output/events -> stdout.
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || err == io.EOF {
				return nil
			}
			return err
		}
		switch mt {
		case websocket.BinaryMessage:
			_, _ = os.Stdout.Write(msg)
		case websocket.TextMessage:
			var ev types.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Type == types.EventSessionExit {
				code := 0
				if ev.ExitCode != nil {
					code = *ev.ExitCode
				}
				if code != 0 {
					return &ExitError{code: code}
				}
				return nil
			}
		}
	}
}
