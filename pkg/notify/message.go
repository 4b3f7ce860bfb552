package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// EscalatedInput describes an exception that left automated processing.
type EscalatedInput struct {
	TenantID     string
	ExceptionID  string
	ExceptionType string
	Reason       string
	DashboardURL string
}

// DLQInput describes an envelope diverted to the dead-letter queue.
type DLQInput struct {
	TenantID     string
	ExceptionID  string
	Topic        string
	ErrorKind    string
	Detail       string
	DashboardURL string
}

func exceptionURL(dashboardURL, exceptionID string) string {
	return fmt.Sprintf("%s/exceptions/%s", dashboardURL, exceptionID)
}

// BuildEscalatedMessage builds the Block Kit payload for an escalation.
func BuildEscalatedMessage(in EscalatedInput) []goslack.Block {
	url := exceptionURL(in.DashboardURL, in.ExceptionID)
	text := fmt.Sprintf(":rotating_light: *Exception escalated* (%s/%s)\nReason: %s\n<%s|View in Dashboard>",
		in.TenantID, in.ExceptionType, in.Reason, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(text), false, false),
			nil, nil,
		),
	}
}

// BuildDLQMessage builds the Block Kit payload for a DLQ diversion.
func BuildDLQMessage(in DLQInput) []goslack.Block {
	url := exceptionURL(in.DashboardURL, in.ExceptionID)
	text := fmt.Sprintf(":x: *Envelope diverted to DLQ* (%s)\nTopic: %s\nKind: %s\nDetail: %s\n<%s|View in Dashboard>",
		in.TenantID, in.Topic, in.ErrorKind, in.Detail, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(text), false, false),
			nil, nil,
		),
	}
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
