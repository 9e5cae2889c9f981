package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fixhow/fixhow/internal/client"
	"github.com/fixhow/fixhow/internal/service"
)

var (
	chatRemote  bool
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Hold a repair conversation",
	Long: `Start an interactive conversation. Follow-up questions can refer to
earlier turns ("what about the second step?"). Type 'exit', 'quit' or
press Ctrl-D to leave.

Examples:
  fixhow chat
  fixhow chat --remote --session my-session`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatRemote, "remote", false, "chat with a running fixhow server instead of the local pipeline")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume or name a session")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var send func(message string) error

	if chatRemote {
		gw := client.New("")
		sessionID := chatSession
		send = func(message string) error {
			resp, err := gw.Chat(ctx, message, sessionID)
			if err != nil {
				return err
			}
			sessionID = resp.SessionID
			printRemoteAnswer(resp)
			return nil
		}
	} else {
		chatbot, err := getChatbot(ctx, nil)
		if err != nil {
			return err
		}
		sessionID, err := chatbot.Sessions.Create(ctx, chatSession)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		send = func(message string) error {
			answer, err := chatbot.Ask(ctx, message, sessionID, 0)
			if err != nil {
				if errors.Is(err, service.ErrNotInitialized) {
					return fmt.Errorf("knowledge base is empty, run 'fixhow init <device>' first")
				}
				return err
			}
			printAnswer(answer)
			return nil
		}
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("Ask repair questions, 'exit' to leave.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := send(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if interactive {
			fmt.Println()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
