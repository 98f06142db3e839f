package browsertest

import (
	"context"
	"errors"
	"sync"

	"ticketbot/internal/browser"
)

// Launcher hands out fake pages from a factory and records them.
type Launcher struct {
	New func() *Page
	// Err, when set, is returned by NewPage instead of a page.
	Err error

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher whose pages come from newPage.
func NewLauncher(newPage func() *Page) *Launcher {
	return &Launcher{New: newPage}
}

func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("launcher is closed")
	}
	if l.Err != nil {
		return nil, l.Err
	}
	p := l.New()
	l.pages = append(l.pages, p)
	return p, nil
}

// Pages returns every page handed out so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Launcher) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
