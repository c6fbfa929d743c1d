package attachment

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"aihub/internal/domain"
)

// TempLocator is a temporary file holding attachment bytes, addressed by a
// file:// URI. The file is removed on the first Release.
type TempLocator struct {
	path     string
	once     sync.Once
	released atomic.Bool
	err      error
}

// NewTempLocator writes data to a new file in dir ("" = os.TempDir()). The
// original extension of name is kept so content sniffers still work.
func NewTempLocator(dir, name string, data []byte) (*TempLocator, error) {
	ext := filepath.Ext(name)
	if strings.ContainsAny(ext, `*/\`) {
		ext = ""
	}
	f, err := os.CreateTemp(dir, "aihub-attachment-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp attachment: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write temp attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close temp attachment: %w", err)
	}
	return &TempLocator{path: f.Name()}, nil
}

func (l *TempLocator) URI() string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(l.path)}).String()
}

func (l *TempLocator) Path() string { return l.path }

func (l *TempLocator) Released() bool { return l.released.Load() }

func (l *TempLocator) Release() error {
	l.once.Do(func() {
		l.released.Store(true)
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.err = err
		}
	})
	return l.err
}

// RemoteLocator addresses bytes owned by someone else (a backend's /view
// URL, for instance). Release is a no-op.
type RemoteLocator string

func (r RemoteLocator) URI() string { return string(r) }

func (RemoteLocator) Release() error { return nil }

// Bytes returns the attachment payload, reading it back from its temp file
// when the in-memory copy has been dropped.
func Bytes(a domain.Attachment) ([]byte, error) {
	if len(a.Payload) > 0 {
		return a.Payload, nil
	}
	tl, ok := a.Locator.(*TempLocator)
	if !ok {
		return nil, fmt.Errorf("attachment %s has no readable payload", a.DisplayName)
	}
	if tl.Released() {
		return nil, fmt.Errorf("attachment %s was already released", a.DisplayName)
	}
	data, err := os.ReadFile(tl.path)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", a.DisplayName, err)
	}
	return data, nil
}

// ReleaseLocators releases every locator and merges the failures.
func ReleaseLocators(locs ...domain.Locator) error {
	var result *multierror.Error
	for _, l := range locs {
		if l == nil {
			continue
		}
		if err := l.Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release %s: %w", l.URI(), err))
		}
	}
	return result.ErrorOrNil()
}
