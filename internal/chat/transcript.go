package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"aihub/internal/domain"
)

const transcriptTimeLayout = "15:04:05"

var transcriptHeader = regexp.MustCompile(`(?m)^(User|Assistant) \((\d{2}:\d{2}:\d{2})\): `)

const entrySeparator = "\n\n"

// FormatTranscript serializes messages as "<Role> (HH:MM:SS): content"
// entries separated by blank lines.
func FormatTranscript(msgs []domain.Message) []byte {
	entries := make([]string, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, fmt.Sprintf("%s (%s): %s", m.Role.Label(), m.Timestamp.Format(transcriptTimeLayout), m.Content))
	}
	return []byte(strings.Join(entries, entrySeparator))
}

// ParseTranscript reverses FormatTranscript. Timestamps carry the time of
// day only. An entry starts at a header that opens the text or follows a
// blank line; anything else, blank lines included, is message content.
func ParseTranscript(data []byte) ([]domain.Message, error) {
	text := strings.TrimLeft(string(data), " \t\r\n")
	if text == "" {
		return nil, nil
	}

	var starts [][]int
	for _, loc := range transcriptHeader.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] == 0 || strings.HasSuffix(text[:loc[0]], entrySeparator) {
			starts = append(starts, loc)
		}
	}
	if len(starts) == 0 || starts[0][0] != 0 {
		return nil, fmt.Errorf("transcript does not start with a message header: %q", firstLine(text))
	}

	msgs := make([]domain.Message, 0, len(starts))
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0] - len(entrySeparator)
		}
		stamp := text[loc[4]:loc[5]]
		ts, err := time.Parse(transcriptTimeLayout, stamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", stamp, err)
		}
		role := domain.RoleUser
		if text[loc[2]:loc[3]] == "Assistant" {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, domain.Message{
			Role:      role,
			Content:   text[loc[1]:end],
			Timestamp: ts,
		})
	}
	return msgs, nil
}

// Transcript serializes the current history.
func (o *Orchestrator) Transcript() []byte {
	return FormatTranscript(o.Messages())
}

// Export hands the serialized history to exporter and returns where it was
// written.
func (o *Orchestrator) Export(ctx context.Context, exporter domain.Exporter) (string, error) {
	path, err := exporter.Export(ctx, o.id, o.Transcript())
	if err != nil {
		return "", fmt.Errorf("export conversation %s: %w", o.id, err)
	}
	return path, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
