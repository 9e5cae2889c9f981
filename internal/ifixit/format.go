package ifixit

import (
	"fmt"
	"strings"
	"time"

	"github.com/fixhow/fixhow/internal/models"
)

// FormatGuide renders a guide into a normalized Document: title and
// device header, introduction, tool list, then numbered repair steps.
func FormatGuide(guide *Guide) models.Document {
	var b strings.Builder

	fmt.Fprintf(&b, "Title: %s\n", orNA(guide.Title))
	fmt.Fprintf(&b, "Device: %s\n", orNA(guide.Device))
	fmt.Fprintf(&b, "Difficulty: %s\n\n", orNA(guide.Difficulty))

	if guide.Introduction != "" {
		fmt.Fprintf(&b, "Introduction:\n%s\n\n", strings.TrimSpace(guide.Introduction))
	}

	if len(guide.Tools) > 0 {
		b.WriteString("Tools Required:\n")
		for _, tool := range guide.Tools {
			name := tool.Text
			if name == "" {
				name = tool.Name
			}
			if name == "" {
				name = "Unknown"
			}
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n")
	}

	if len(guide.Steps) > 0 {
		b.WriteString("Repair Steps:\n")
		for i, step := range guide.Steps {
			title := step.Title
			if title == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&b, "\nStep %d: %s\n", i+1, title)
			for _, line := range step.Lines {
				fmt.Fprintf(&b, "  %s\n", line.Text)
			}
		}
	}

	sourceURI := guide.URL
	if sourceURI == "" {
		sourceURI = fmt.Sprintf("%s/guides/%d", DefaultBaseURL, guide.GuideID)
	}

	return models.Document{
		ID:        fmt.Sprintf("ifixit-guide-%d", guide.GuideID),
		SourceURI: sourceURI,
		Title:     guide.Title,
		Text:      b.String(),
		Metadata: map[string]string{
			models.MetaDevice:     guide.Device,
			models.MetaGuideType:  guide.Type,
			models.MetaDifficulty: guide.Difficulty,
		},
		CreatedAt: time.Now(),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
