// Package export writes conversation transcripts to files.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/russross/blackfriday"

	"aihub/internal/domain"
)

const (
	FormatText = "text"
	FormatHTML = "html"
)

const (
	htmlFlags = blackfriday.HTML_SKIP_HTML |
		blackfriday.HTML_SAFELINK |
		blackfriday.HTML_USE_XHTML |
		blackfriday.HTML_COMPLETE_PAGE
	markdownExtensions = blackfriday.EXTENSION_NO_INTRA_EMPHASIS |
		blackfriday.EXTENSION_FENCED_CODE |
		blackfriday.EXTENSION_AUTOLINK |
		blackfriday.EXTENSION_STRIKETHROUGH |
		blackfriday.EXTENSION_TABLES |
		blackfriday.EXTENSION_HARD_LINE_BREAK
)

type Config struct {
	Dir    string
	Format string // text | html
	Now    func() time.Time
	Logger *slog.Logger
}

// FileExporter is a domain.Exporter writing chat_export_<unix-millis> files
// into a directory.
type FileExporter struct {
	dir    string
	format string
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Exporter = (*FileExporter)(nil)

func New(cfg Config) *FileExporter {
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FileExporter{dir: cfg.Dir, format: cfg.Format, now: cfg.Now, logger: cfg.Logger}
}

// WithFormat returns a copy writing the given format.
func (e *FileExporter) WithFormat(format string) *FileExporter {
	cp := *e
	cp.format = format
	return &cp
}

// Export writes transcript and returns the path of the new file.
func (e *FileExporter) Export(ctx context.Context, conversationID string, transcript []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var body []byte
	var ext string
	switch e.format {
	case FormatText:
		body, ext = transcript, ".txt"
	case FormatHTML:
		body, ext = RenderHTML(conversationID, transcript), ".html"
	default:
		return "", fmt.Errorf("unsupported export format %q", e.format)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	millis := e.now().UnixMilli()
	for range 100 {
		path := filepath.Join(e.dir, fmt.Sprintf("chat_export_%d%s", millis, ext))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			millis++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create export file: %w", err)
		}
		if _, err := f.Write(body); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write export file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close export file: %w", err)
		}
		e.logger.Info("conversation exported", "conversation", conversationID, "path", path, "bytes", len(body))
		return path, nil
	}
	return "", fmt.Errorf("no free export file name in %s", e.dir)
}

// RenderHTML renders a transcript as a complete HTML page. Raw HTML in
// message content is dropped.
func RenderHTML(conversationID string, transcript []byte) []byte {
	title := "Chat export"
	if conversationID != "" {
		title += " " + conversationID
	}
	renderer := blackfriday.HtmlRenderer(htmlFlags, title, "")
	return blackfriday.Markdown(transcript, renderer, markdownExtensions)
}
