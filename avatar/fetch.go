package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultStallTimeout is how long a download may go without receiving its
// first byte.
const DefaultStallTimeout = 5 * time.Second

// Fetcher downloads avatars over HTTP. A download that has not received any
// bytes after StallTimeout is aborted with ErrStalled, even though the
// connection itself never timed out.
type Fetcher struct {
	Client       *http.Client
	StallTimeout time.Duration
}

// Download fetches the body behind url.
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	stall := f.StallTimeout
	if stall <= 0 {
		stall = DefaultStallTimeout
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var received atomic.Int64
	watchdog := time.AfterFunc(stall, func() {
		if received.Load() == 0 {
			cancel(ErrStalled)
		}
	})
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, downloadErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download returned %s", resp.Status)
	}

	data, err := io.ReadAll(&progressReader{r: resp.Body, n: &received})
	if err != nil {
		return nil, downloadErr(ctx, err)
	}
	return data, nil
}

func downloadErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrStalled) {
		return fmt.Errorf("no progress: %w", ErrStalled)
	}
	return fmt.Errorf("download failed: %w", err)
}

// progressReader counts the bytes read through it.
type progressReader struct {
	r io.Reader
	n *atomic.Int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n.Add(int64(n))
	return n, err
}
