package bus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Broadcaster implements the request/reply fan-out spec.md §9 describes:
// "publish a request with a correlation id, collect replies into a bounded
// collection until a per-call timeout elapses. nil entries mark
// non-responders." Grounded on golang.org/x/sync/errgroup's bounded
// fan-out, the idiomatic Go stand-in for the original's broadcast RPC.
type Broadcaster struct {
	httpClient *http.Client
	nodeURLs   []string
	secret     string
	timeout    time.Duration
}

// NewBroadcaster builds a Broadcaster that fans requests out to nodeURLs
// (this node's peers, master's view of its slaves), authenticating with
// X-Scm-Secret.
func NewBroadcaster(nodeURLs []string, secret string, timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Broadcaster{
		httpClient: &http.Client{Timeout: timeout},
		nodeURLs:   nodeURLs,
		secret:     secret,
		timeout:    timeout,
	}
}

// Reply pairs a node's base URL with its decoded response, or a nil Body
// when the node failed to answer in time.
type Reply struct {
	NodeURL string
	Body    json.RawMessage // nil marks a non-responder
}

// Broadcast issues a GET against path on every configured node concurrently
// and collects replies, a nil Body for any node that errors or exceeds the
// broadcaster's timeout.
func (b *Broadcaster) Broadcast(ctx context.Context, path string) []Reply {
	replies := make([]Reply, len(b.nodeURLs))

	g, gctx := errgroup.WithContext(ctx)
	for i, url := range b.nodeURLs {
		i, url := i, url
		g.Go(func() error {
			replies[i] = Reply{NodeURL: url, Body: b.fetch(gctx, url+path)}
			return nil
		})
	}
	_ = g.Wait() // fetch never returns an error; individual failures are nil Bodies

	return replies
}

func (b *Broadcaster) fetch(ctx context.Context, url string) json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("X-Scm-Secret", b.secret)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return body
}
