package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// Frame is one session message in either direction
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newConnectCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a live session over websocket",
		Long: `Open a websocket session, join with the saved token and print every
event the server sends.

Lines read from stdin are sent as chat messages, except for these commands:
  /spend [cost]                        spend energy to start a game (default 10)
  /score <score> <level> <secs> <won>  submit a finished game
  /ping                                send a heartbeat

Press Ctrl+C to disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Token == "" {
				return errNoToken
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, cfg.WebsocketURL(), cfg.Token, os.Stdin, NewOutput(cfg.Output), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")

	return cmd
}

func runSession(ctx context.Context, url, token string, in io.Reader, out *Output, jsonOutput bool) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection failed: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	join, err := newFrame("join", map[string]string{"token": token})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				done <- err
				return
			}
			printEvent(out, f.Type, string(f.Payload), jsonOutput)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			if !jsonOutput {
				out.PrintMessage("Disconnected")
			}
			return nil
		case err := <-done:
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code == websocket.CloseNormalClosure {
					return nil
				}
				return fmt.Errorf("server closed the session: %d %s", closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("stream error: %w", err)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			f, err := parseInput(line, time.Now())
			if err != nil {
				out.PrintError(err)
				continue
			}
			if f == nil {
				continue
			}
			if err := conn.WriteJSON(f); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

// parseInput turns one line of user input into a frame. Blank lines yield nil.
func parseInput(line string, now time.Time) (*Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return newFrame("chat", map[string]string{"message": line})
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/ping":
		return newFrame("heartbeat", map[string]int64{"sent_at": now.UnixMilli()})
	case "/spend":
		cost := 10
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("invalid cost %q", fields[1])
			}
			cost = n
		}
		return newFrame("spend_energy", map[string]int{"cost": cost})
	case "/score":
		if len(fields) != 5 {
			return nil, errors.New("usage: /score <score> <level> <secs> <won>")
		}
		nums := make([]int, 3)
		for i, raw := range fields[1:4] {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", raw)
			}
			nums[i] = n
		}
		won, err := strconv.ParseBool(fields[4])
		if err != nil {
			return nil, fmt.Errorf("invalid won %q", fields[4])
		}
		return newFrame("submit_score", map[string]any{
			"score":        nums[0],
			"level":        nums[1],
			"elapsed_time": nums[2],
			"won":          won,
		})
	default:
		return nil, fmt.Errorf("unknown command %s", fields[0])
	}
}

func newFrame(event string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: event, Payload: data}, nil
}
