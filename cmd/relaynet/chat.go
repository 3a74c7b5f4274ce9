package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/luciancaetano/relaynet/internal/client"
	"github.com/luciancaetano/relaynet/internal/logging"
)

// lineReader yields one line of user input per call.
type lineReader interface {
	ReadLine() (string, error)
}

// scannerLines adapts a bufio.Scanner to lineReader.
type scannerLines struct {
	sc *bufio.Scanner
}

func (s scannerLines) ReadLine() (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func chatCmd() *cobra.Command {
	var (
		address string
		name    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a relay as an interactive chat client",
		Long: `Connect to a relay and chat with everyone else connected to it.

Lines typed are sent as chat messages. Type '/exit' or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.NewLogger("warn", "text")
			c, err := client.Dial(ctx, address, &client.Options{
				DialTimeout: timeout,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				if name == "" {
					name = "anonymous"
				}
				sc := bufio.NewScanner(os.Stdin)
				return runChat(ctx, c, name, scannerLines{sc: sc}, cmd.OutOrStdout(), time.Now)
			}

			oldState, err := term.MakeRaw(fd)
			if err != nil {
				c.Close()
				return fmt.Errorf("failed to set raw mode: %w", err)
			}
			defer term.Restore(fd, oldState)

			t := term.NewTerminal(stdio{}, "> ")
			if name == "" {
				name, err = promptName(t)
				if err != nil {
					c.Close()
					return err
				}
			}
			return runChat(ctx, c, name, t, t, time.Now)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:8412", "Relay address")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (prompted when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connection timeout")

	return cmd
}

// stdio joins stdin and stdout for term.NewTerminal.
type stdio struct{}

func (stdio) Read(p []byte) (int, error) { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func promptName(t *term.Terminal) (string, error) {
	t.SetPrompt("Enter your name: ")
	defer t.SetPrompt("> ")
	for {
		line, err := t.ReadLine()
		if err != nil {
			return "", err
		}
		if name := strings.TrimSpace(line); name != "" {
			return name, nil
		}
	}
}

// runChat announces name, relays typed lines and prints everything the relay
// forwards until the user leaves, input ends, ctx is cancelled or the relay
// goes away. It always closes c.
func runChat(ctx context.Context, c *client.Client, name string, in lineReader, out io.Writer, now func() time.Time) error {
	defer c.Close()

	if err := c.Send(client.JoinMessage(now(), name)); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}

	lines := make(chan string)
	inputDone := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			line, err := in.ReadLine()
			if err != nil {
				inputDone <- err
				return
			}
			select {
			case lines <- line:
			case <-quit:
				return
			}
		}
	}()

	leave := func() error {
		if err := c.Send(client.LeaveMessage(now(), name)); err != nil && !errors.Is(err, client.ErrClosed) {
			return fmt.Errorf("failed to leave: %w", err)
		}
		return nil
	}

	msgs := c.Messages()
	for {
		select {
		case <-ctx.Done():
			return leave()

		case f, ok := <-msgs:
			if !ok {
				fmt.Fprintln(out, "Disconnected from relay.")
				return c.Err()
			}
			fmt.Fprintln(out, strings.TrimRight(string(f.Payload), "\n"))

		case line := <-lines:
			if strings.TrimSpace(line) == client.ExitCommand {
				return leave()
			}
			if line == "" {
				continue
			}
			if err := c.Send(client.ChatMessage(now(), name, line)); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}

		case err := <-inputDone:
			if !errors.Is(err, io.EOF) {
				leave()
				return fmt.Errorf("failed to read input: %w", err)
			}
			return leave()
		}
	}
}
