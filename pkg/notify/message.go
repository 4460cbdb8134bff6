package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/tarsy-labs/kopsy/pkg/models"
)

// maxBlockTextLength mirrors Slack's own per-block text limit with a
// margin, same constant the teacher's pkg/slack package uses.
const maxBlockTextLength = 2900

// BuildCompletedMessage renders the Block Kit payload posted when an
// investigation reaches investigation_completed.
func BuildCompletedMessage(taskID string, payload models.InvestigationCompletedPayload, dashboardURL string) []goslack.Block {
	title := payload.Title
	if title == "" {
		title = "Investigation complete"
	}

	header := goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, ":white_check_mark: "+title, false, false))

	body := fmt.Sprintf("*Summary*\n%s\n\n*Remediation*\n%s", payload.Summary, payload.Remediation)
	section := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(body), false, false),
		nil, nil,
	)

	blocks := []goslack.Block{header, section}
	if link := dashboardLink(taskID, dashboardURL); link != nil {
		blocks = append(blocks, link)
	}
	return blocks
}

// BuildFailedMessage renders the Block Kit payload posted when an
// investigation ends in a terminal error or cancellation.
func BuildFailedMessage(taskID string, payload models.ErrorPayload, dashboardURL string) []goslack.Block {
	header := goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, ":x: Investigation failed", false, false))

	body := fmt.Sprintf("*%s*\n%s", payload.ErrorKind, payload.Message)
	section := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(body), false, false),
		nil, nil,
	)

	blocks := []goslack.Block{header, section}
	if link := dashboardLink(taskID, dashboardURL); link != nil {
		blocks = append(blocks, link)
	}
	return blocks
}

func dashboardLink(taskID, dashboardURL string) goslack.Block {
	if dashboardURL == "" {
		return nil
	}
	url := fmt.Sprintf("%s/investigations/%s", dashboardURL, taskID)
	return goslack.NewContextBlock("", goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("<%s|View investigation>", url), false, false))
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "... (truncated)"
}
