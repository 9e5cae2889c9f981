package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fixhow/fixhow/internal/service"
)

var (
	initMaxGuides int
	initFilesDir  string
	initRecursive bool
)

var initCmd = &cobra.Command{
	Use:   "init [device]",
	Short: "Build the knowledge base from iFixit guides or local files",
	Long: `Build the knowledge base by fetching repair guides for a device
from iFixit, or by ingesting local markdown and text files.

Examples:
  fixhow init "iPhone 13"
  fixhow init "Fairphone 4" --max-guides 10
  fixhow init --files ./my-guides --recursive`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().IntVar(&initMaxGuides, "max-guides", 0, "max guides to fetch (defaults to the configured limit)")
	initCmd.Flags().StringVar(&initFilesDir, "files", "", "ingest local files from this directory instead")
	initCmd.Flags().BoolVarP(&initRecursive, "recursive", "r", false, "recurse into subdirectories with --files")
}

func runInit(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && initFilesDir == "" {
		return fmt.Errorf("either a device name or --files is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Progress events are forwarded to the TUI once it is running.
	var forward func(service.Progress)
	chatbot, err := getChatbot(ctx, func(p service.Progress) {
		if forward != nil {
			forward(p)
		}
	})
	if err != nil {
		return err
	}

	run := func(onProgress func(service.Progress)) (*service.IngestResult, error) {
		forward = onProgress
		if initFilesDir != "" {
			files, err := service.CollectFiles(initFilesDir, initRecursive)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				return nil, fmt.Errorf("no markdown or text files found in %s", initFilesDir)
			}
			return chatbot.Ingestor.IngestFiles(ctx, files)
		}
		maxGuides := initMaxGuides
		if maxGuides == 0 {
			maxGuides = cfg.MaxGuides
		}
		return chatbot.Ingestor.BuildKnowledgeBase(ctx, args[0], maxGuides)
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		// The TUI prints the summary itself.
		_, err := runIngestProgress(run)
		return err
	}

	// No TTY: run plainly and print the summary.
	result, err := run(func(p service.Progress) {
		if p.Stage == "ingest" {
			fmt.Printf("ingested %d/%d: %s\n", p.Current, p.Total, p.Title)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Documents ingested: %d\nChunks indexed:     %d\n", result.DocumentsIngested, result.ChunksIndexed)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s\n", e)
	}
	return nil
}
