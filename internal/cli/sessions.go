package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fixhow/fixhow/internal/client"
	"github.com/fixhow/fixhow/internal/models"
)

var (
	sessionsRemote  bool
	historyMaxTurns int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage conversation sessions",
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show a session's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsHistory,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&sessionsRemote, "remote", false, "operate on a running fixhow server instead of the local store")
	sessionsHistoryCmd.Flags().IntVar(&historyMaxTurns, "max-turns", 0, "only show the most recent turns")

	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func runSessionsHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	id := args[0]

	var turns []models.Turn
	if sessionsRemote {
		resp, err := client.New("").History(ctx, id, historyMaxTurns)
		if err != nil {
			return err
		}
		turns = resp.Turns
	} else {
		chatbot, err := getChatbot(ctx, nil)
		if err != nil {
			return err
		}
		turns, err = chatbot.Sessions.History(ctx, id, historyMaxTurns)
		if err != nil {
			return err
		}
	}

	if len(turns) == 0 {
		fmt.Println("(empty session)")
		return nil
	}
	for _, t := range turns {
		fmt.Printf("[%s] %s: %s\n", t.Timestamp.Format("15:04:05"), t.Role, strings.TrimSpace(t.Text))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	id := args[0]

	if sessionsRemote {
		if err := client.New("").DeleteSession(ctx, id); err != nil {
			return err
		}
	} else {
		chatbot, err := getChatbot(ctx, nil)
		if err != nil {
			return err
		}
		if err := chatbot.Sessions.Delete(ctx, id); err != nil {
			return err
		}
	}
	fmt.Printf("Session %s deleted.\n", id)
	return nil
}
