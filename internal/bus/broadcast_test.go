package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBroadcast_CollectsRepliesAndMarksNonResponders(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Scm-Secret") != "s3cr3t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"hash":"abc123"}`))
	}))
	defer ok.Close()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	b := NewBroadcaster([]string{ok.URL, notFound.URL}, "s3cr3t", time.Second)
	replies := b.Broadcast(context.Background(), "/status/app1")

	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].Body == nil {
		t.Error("expected first node to reply with a body")
	}
	if replies[1].Body != nil {
		t.Error("expected second node (404) to be treated as a non-responder")
	}
}

func TestBroadcast_UnreachableNodeIsNonResponder(t *testing.T) {
	b := NewBroadcaster([]string{"http://127.0.0.1:1"}, "s3cr3t", 200*time.Millisecond)
	replies := b.Broadcast(context.Background(), "/status/app1")

	if len(replies) != 1 || replies[0].Body != nil {
		t.Fatalf("expected unreachable node to report nil body, got %+v", replies)
	}
}

func TestNewBroadcaster_DefaultsTimeout(t *testing.T) {
	b := NewBroadcaster(nil, "s3cr3t", 0)
	if b.httpClient.Timeout != 5*time.Second {
		t.Errorf("expected default 5s timeout, got %v", b.httpClient.Timeout)
	}
}
