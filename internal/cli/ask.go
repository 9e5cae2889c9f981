package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixhow/fixhow/internal/client"
	"github.com/fixhow/fixhow/internal/models"
	"github.com/fixhow/fixhow/internal/server"
	"github.com/fixhow/fixhow/internal/service"
)

var (
	askTopK   int
	askRemote bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot repair question",
	Long: `Ask a single question against the knowledge base. The answer cites
the guide passages it is based on.

Examples:
  fixhow ask "How do I replace the battery?"
  fixhow ask --top-k 4 "Which screwdriver do I need for the back cover?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of passages to retrieve")
	askCmd.Flags().BoolVar(&askRemote, "remote", false, "query a running fixhow server instead of the local pipeline")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	question := args[0]

	if askRemote {
		resp, err := client.New("").Query(ctx, question, "", askTopK)
		if err != nil {
			return err
		}
		printRemoteAnswer(resp)
		return nil
	}

	chatbot, err := getChatbot(ctx, nil)
	if err != nil {
		return err
	}

	answer, err := chatbot.Ask(ctx, question, "", askTopK)
	if err != nil {
		if errors.Is(err, service.ErrNotInitialized) {
			return fmt.Errorf("knowledge base is empty, run 'fixhow init <device>' first")
		}
		return err
	}

	printAnswer(answer)
	return nil
}

func printAnswer(a *models.Answer) {
	fmt.Println(strings.TrimSpace(a.Text))
	printSources(a.Citations, a.NoContext)
	fmt.Printf("\n(%s, %s)\n", a.Model, a.Latency.Round(time.Millisecond))
}

func printRemoteAnswer(r *server.AnswerResponse) {
	fmt.Println(strings.TrimSpace(r.Answer))
	printSources(r.Sources, r.NoContext)
	fmt.Printf("\n(%s, %dms)\n", r.Model, r.LatencyMs)
}

func printSources(citations []models.Citation, noContext bool) {
	if noContext {
		fmt.Println("\n(no relevant passages found, answer is not grounded in the knowledge base)")
		return
	}
	if len(citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, c := range citations {
		title := c.Title
		if title == "" {
			title = c.DocumentID
		}
		line := fmt.Sprintf("  [%d] %s", i+1, title)
		if c.SourceURI != "" {
			line += " (" + c.SourceURI + ")"
		}
		fmt.Println(line)
	}
}
