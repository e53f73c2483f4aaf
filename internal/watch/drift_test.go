package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/bus"
	"github.com/camptocamp/shared-config-manager/internal/metrics"
)

type fakeRefresher struct {
	mu       sync.Mutex
	refreshed []string
}

func (f *fakeRefresher) RefreshID(ctx context.Context, id string) error {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, id)
	f.mu.Unlock()
	return nil
}

type fakeStatusSource struct{ ids []string }

func (f *fakeStatusSource) ActiveIDs() []string { return f.ids }

// hashServer mimics handleStatusOne's real response shape: a JSON array of
// per-source status entries, each carrying a "hash" field, served at the
// exact route internal/httpapi.Server mounts it under.
func hashServer(hash string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/scm/1/status/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[{"hash":"` + hash + `"}]`))
	}))
}

func TestDriftDetector_AgreeingHashesDoNotRefresh(t *testing.T) {
	s1 := hashServer("abc")
	defer s1.Close()
	s2 := hashServer("abc")
	defer s2.Close()

	b := bus.NewBroadcaster([]string{s1.URL, s2.URL}, "secret", time.Second)
	refresher := &fakeRefresher{}
	statusSrc := &fakeStatusSource{ids: []string{"app1"}}

	d := NewDriftDetector(time.Minute, b, refresher, statusSrc, "/scm", metrics.New(), logr.Discard())
	d.checkAll(context.Background())

	if len(refresher.refreshed) != 0 {
		t.Errorf("expected no refresh when all hashes agree, got %v", refresher.refreshed)
	}
}

func TestDriftDetector_DisagreeingHashesTriggerRefresh(t *testing.T) {
	s1 := hashServer("abc")
	defer s1.Close()
	s2 := hashServer("def")
	defer s2.Close()

	b := bus.NewBroadcaster([]string{s1.URL, s2.URL}, "secret", time.Second)
	refresher := &fakeRefresher{}
	statusSrc := &fakeStatusSource{ids: []string{"app1"}}

	d := NewDriftDetector(time.Minute, b, refresher, statusSrc, "/scm", metrics.New(), logr.Discard())
	d.checkAll(context.Background())

	if len(refresher.refreshed) != 1 || refresher.refreshed[0] != "app1" {
		t.Errorf("expected app1 to be refreshed once, got %v", refresher.refreshed)
	}
}

func TestDriftDetector_NonResponderTriggersRefresh(t *testing.T) {
	s1 := hashServer("abc")
	defer s1.Close()

	b := bus.NewBroadcaster([]string{s1.URL, "http://127.0.0.1:1"}, "secret", 200*time.Millisecond)
	refresher := &fakeRefresher{}
	statusSrc := &fakeStatusSource{ids: []string{"app1"}}

	d := NewDriftDetector(time.Minute, b, refresher, statusSrc, "/scm", metrics.New(), logr.Discard())
	d.checkAll(context.Background())

	if len(refresher.refreshed) != 1 {
		t.Errorf("expected a non-responding node to trigger a refresh, got %v", refresher.refreshed)
	}
}

func TestDriftDetector_WrongPathWouldHaveBeen404(t *testing.T) {
	// Fixture check: the hashServer fixture only serves the real route
	// shape ({prefix}/1/status/{id}), so the old, prefix-less path
	// /status/{id} answers 404. The detector itself is not run here.
	s := hashServer("abc")
	defer s.Close()

	resp, err := http.Get(s.URL + "/status/app1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected the old, wrong path to 404 against this fixture, got %d", resp.StatusCode)
	}
}
