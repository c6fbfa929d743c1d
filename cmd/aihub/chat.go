package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"aihub/internal/chat"
	"aihub/internal/domain"
	"aihub/internal/export"
)

func chatCmd() *cobra.Command {
	var conversation, model string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Starts an interactive conversation. Lines are sent as turns; commands:
  /attach <file> [image|audio]  add an attachment to the next turn
  /remove <n>                   drop pending attachment n
  /pending                      list pending attachments
  /export [text|html]           write the transcript to the export directory
  /clear                        forget the conversation so far
  /quit                         leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			go func() {
				if err := a.monitor.Run(ctx); err != nil {
					logger.Error("health monitor stopped", "err", err)
				}
			}()

			if conversation == "" {
				conversation = uuid.Must(uuid.NewV7()).String()
			}
			sess, err := a.sessions.GetOrCreate(conversation)
			if err != nil {
				return err
			}
			repl := &chatREPL{session: sess, exporter: a.exporter, model: model, in: os.Stdin, out: os.Stdout}
			return repl.run(ctx)
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "resume a conversation by id")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model for every turn (default from config)")
	return cmd
}

type chatREPL struct {
	session  *chat.Session
	exporter *export.FileExporter
	model    string
	in       io.Reader
	out      io.Writer

	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

func (r *chatREPL) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "aihub chat %s. Type a message and press Enter. /quit to exit.\n", r.session.ID())
	for _, m := range r.session.Chat.Messages() {
		r.printMessage(m)
	}
	fmt.Fprint(r.out, "You> ")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err // nil on EOF
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			fmt.Fprint(r.out, "You> ")
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				return nil
			}
			fmt.Fprint(r.out, "You> ")
			continue
		}

		r.startThinking()
		res, err := r.session.Chat.Submit(ctx, chat.Turn{Text: line, Model: r.model}, r.session.Attachments)
		r.stopThinking()
		switch {
		case errors.Is(err, chat.ErrBusy):
			fmt.Fprintln(r.out, "A response is still being generated, please wait.")
		case err != nil:
			fmt.Fprintf(r.out, "error: %v\n", err)
		default:
			for _, e := range res.TranscriptionErrors {
				fmt.Fprintf(r.out, "(transcription failed: %v)\n", e)
			}
			r.printMessage(res.Reply)
		}
		fmt.Fprint(r.out, "You> ")
	}
}

// command handles a slash command and reports whether to quit.
func (r *chatREPL) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true
	case "/attach":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: /attach <file> [image|audio]")
			return false
		}
		kind := ""
		if len(fields) > 2 {
			kind = fields[2]
		}
		if err := attachFile(r.session, fields[1], kind); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		r.printPending()
	case "/remove":
		n, err := strconv.Atoi(strings.Join(fields[1:], ""))
		if err != nil {
			fmt.Fprintln(r.out, "usage: /remove <n>")
			return false
		}
		if err := r.session.Attachments.Remove(n - 1); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		r.printPending()
	case "/pending":
		r.printPending()
	case "/export":
		exp := r.exporter
		if len(fields) > 1 {
			exp = exp.WithFormat(fields[1])
		}
		path, err := r.session.Chat.Export(ctx, exp)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "exported to %s\n", path)
	case "/clear":
		if err := r.session.Chat.Clear(); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "conversation cleared")
	default:
		fmt.Fprintf(r.out, "unknown command %s\n", fields[0])
	}
	return false
}

func (r *chatREPL) printMessage(m domain.Message) {
	who := m.Role.Label()
	if m.Model != "" {
		who += " [" + m.Model + "]"
	}
	fmt.Fprintf(r.out, "--- %s (%s) ---\n%s\n", who, m.Timestamp.Format("15:04:05"), m.Content)
}

func (r *chatREPL) printPending() {
	pending := r.session.Attachments.List()
	if len(pending) == 0 {
		fmt.Fprintln(r.out, "no pending attachments")
		return
	}
	for i, a := range pending {
		fmt.Fprintf(r.out, "  %d. [%s] %s\n", i+1, a.Kind, a.DisplayName)
	}
}

func (r *chatREPL) startThinking() {
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if r.thinkStop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	r.thinkStop, r.thinkDone = stop, done
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				fmt.Fprint(r.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(r.out, "\r%s Generating...", frames[i%len(frames)])
			}
		}
	}()
}

func (r *chatREPL) stopThinking() {
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if r.thinkStop == nil {
		return
	}
	close(r.thinkStop)
	<-r.thinkDone
	r.thinkStop, r.thinkDone = nil, nil
}

// attachFile reads path into the session's pending set. kind "" infers the
// kind from the file extension.
func attachFile(sess *chat.Session, path, kind string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	var k domain.AttachmentKind
	switch {
	case kind != "":
		k = domain.AttachmentKind(kind)
	case strings.HasPrefix(mimeType, "image/"):
		k = domain.AttachmentImage
	case strings.HasPrefix(mimeType, "audio/"):
		k = domain.AttachmentAudio
	default:
		return fmt.Errorf("cannot tell whether %s is an image or audio; pass the kind", filepath.Base(path))
	}
	if k != domain.AttachmentImage && k != domain.AttachmentAudio {
		return fmt.Errorf("unknown attachment kind %q", kind)
	}
	_, err = sess.Attachments.Add(k, filepath.Base(path), mimeType, data)
	return err
}
