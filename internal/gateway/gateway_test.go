package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"shoppoller/internal/kv"
	"shoppoller/internal/models"
)

func testWorld(id uint, url string) models.World {
	return models.World{ID: id, Name: "w" + string(rune('a'+id%26)), APIURL: &url, Class: models.WorldClassPermanent, Active: true, IsPublic: true}
}

func newGateway() *Gateway {
	return &Gateway{
		Store:    kv.NewMemoryStore(),
		HTTP:     &http.Client{Timeout: 2 * time.Second},
		MinGap:   0,
		Retries:  5,
		LockWait: 5 * time.Second,
		LockTTL:  10 * time.Second,
	}
}

func TestFetch_OctetStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shopping/B/32779" {
			t.Errorf("path=%s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	g := newGateway()
	resp, err := g.Fetch(context.Background(), testWorld(1, srv.URL+"/"), "/shopping/B/32779")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if resp.ContentType != "application/octet-stream" || !bytes.Equal(resp.Body, []byte{1, 2, 3}) {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestFetch_JSONAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	g := newGateway()
	world := testWorld(1, srv.URL)
	resp, err := g.Fetch(context.Background(), world, "/json")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	obj, ok := resp.JSON.(map[string]any)
	if !ok || obj["ok"] != true {
		t.Fatalf("json=%#v", resp.JSON)
	}
	resp, err = g.Fetch(context.Background(), world, "/text")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("text=%q", resp.Text)
	}
}

func TestFetch_Gzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("accept-encoding=%q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte("payload"))
		_ = zw.Close()
	}))
	defer srv.Close()

	g := newGateway()
	resp, err := g.Fetch(context.Background(), testWorld(1, srv.URL), "/x")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if string(resp.Body) != "payload" {
		t.Fatalf("body=%q", resp.Body)
	}
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
	}))
	defer srv.Close()

	g := newGateway()
	if _, err := g.Fetch(context.Background(), testWorld(1, srv.URL), "/x"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := newGateway()
	g.Retries = 2
	_, err := g.Fetch(context.Background(), testWorld(1, srv.URL), "/x")
	if StatusOf(err) != http.StatusForbidden {
		t.Fatalf("err=%v want 403", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := newGateway()
	_, err := g.Fetch(context.Background(), testWorld(1, srv.URL), "/x")
	if StatusOf(err) != http.StatusNotFound {
		t.Fatalf("err=%v want 404", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestFetch_MinGapPerWorld(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]time.Time{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = append(seen[r.URL.Path], time.Now())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/octet-stream")
	}))
	defer srv.Close()

	g := newGateway()
	g.MinGap = 80 * time.Millisecond
	a := testWorld(1, srv.URL+"/a")
	b := testWorld(2, srv.URL+"/b")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		for _, w := range []models.World{a, b} {
			wg.Add(1)
			go func(w models.World) {
				defer wg.Done()
				if _, err := g.Fetch(context.Background(), w, "/x"); err != nil {
					t.Errorf("err=%v", err)
				}
			}(w)
		}
	}
	wg.Wait()

	for path, times := range seen {
		if len(times) != 3 {
			t.Fatalf("%s calls=%d want 3", path, len(times))
		}
		for i := 1; i < len(times); i++ {
			// server-side stamps can land slightly before the gateway's own
			if gap := times[i].Sub(times[i-1]); gap < 70*time.Millisecond {
				t.Fatalf("%s gap=%v below min gap", path, gap)
			}
		}
	}
}

func TestCallWorlds_RemovesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/gone") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	g := newGateway()
	worlds := []models.World{
		testWorld(251, srv.URL+"/w251"),
		testWorld(999, srv.URL+"/gone"),
		testWorld(1000, srv.URL+"/w1000"),
	}
	res, err := g.CallWorlds(context.Background(), "/shopping/S/1", worlds)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0].ID != 999 {
		t.Fatalf("removed=%+v", res.Removed)
	}
	if len(res.Bodies) != 2 || string(res.Bodies[1000].Body) != "/w1000/shopping/S/1" {
		t.Fatalf("bodies=%v", res.Bodies)
	}
}

func TestCallWorlds_FailsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := newGateway()
	g.Retries = 0
	_, err := g.CallWorlds(context.Background(), "/x", []models.World{testWorld(1, srv.URL)})
	if StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("err=%v want 500", err)
	}
}
