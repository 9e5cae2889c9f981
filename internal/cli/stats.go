package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixhow/fixhow/internal/client"
)

var statsRemote bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline timing statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsRemote, "remote", false, "fetch stats from a running fixhow server")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if statsRemote {
		raw, err := client.New("").Stats(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("format stats: %w", err)
		}
		fmt.Println(buf.String())
		return nil
	}

	chatbot, err := getChatbot(ctx, nil)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(chatbot.Metrics.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("format stats: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
