package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"shoppoller/internal/kv"
	"shoppoller/internal/models"
)

const (
	lockName       = "gateway_lock"
	lastCallPrefix = "gateway:last_call:"
	maxBodyBytes   = 32 << 20
)

// HTTPError is a non-2xx answer that survived the retries.
type HTTPError struct {
	Status int
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("world api error (%d) %s: %s", e.Status, e.URL, e.Body)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

type Response struct {
	ContentType string
	Body        []byte
	// JSON is set for application/json bodies, Text for anything that is
	// neither json nor octet-stream.
	JSON any
	Text string
}

// Gateway performs world api calls. Every attempt runs under one shared lock
// that also guards the per-world last-call timestamps, so no two calls to the
// same world are closer than MinGap across all workers.
type Gateway struct {
	Store     kv.Store
	HTTP      *http.Client
	Logger    *zap.Logger
	MinGap    time.Duration
	Retries   int
	LockWait  time.Duration
	LockTTL   time.Duration
	UserAgent string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (g *Gateway) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}

func (g *Gateway) wait(ctx context.Context, d time.Duration) error {
	if g.sleep != nil {
		return g.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// Fetch GETs path on the world's api. 404 is returned at once; other non-2xx
// and transport errors are retried up to Retries times.
func (g *Gateway) Fetch(ctx context.Context, world models.World, path string) (*Response, error) {
	base := world.BaseURL()
	if base == "" {
		return nil, fmt.Errorf("world %d has no api url", world.ID)
	}
	url := base + "/" + strings.TrimLeft(path, "/")

	retries := g.Retries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := g.attempt(ctx, world.ID, url)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, kv.ErrLockNotAcquired) {
			return nil, fmt.Errorf("gateway lock: %w", err)
		}
		lastErr = err
		if StatusOf(err) == http.StatusNotFound {
			return nil, err
		}
		g.logger().Debug("world call failed",
			zap.Uint("world_id", world.ID),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func (g *Gateway) attempt(ctx context.Context, worldID uint, url string) (*Response, error) {
	lock := kv.NewMutex(g.Store, lockName, g.LockTTL)
	if err := lock.Lock(ctx, g.LockWait); err != nil {
		return nil, err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			g.logger().Warn("gateway unlock failed", zap.Error(err))
		}
	}()

	key := lastCallPrefix + strconv.FormatUint(uint64(worldID), 10)
	if raw, ok, err := g.Store.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		if nanos, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			elapsed := g.clock().Sub(time.Unix(0, nanos))
			if remaining := g.MinGap - elapsed; remaining > 0 {
				if err := g.wait(ctx, remaining); err != nil {
					return nil, err
				}
			}
		}
	}

	resp, err := g.do(ctx, url)

	stamp := strconv.FormatInt(g.clock().UnixNano(), 10)
	ttl := g.MinGap * 10
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if serr := g.Store.Set(ctx, key, []byte(stamp), ttl); serr != nil && err == nil {
		err = serr
	}
	return resp, err
}

func (g *Gateway) do(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream, application/json;q=0.9, */*;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}
	client := g.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer zr.Close()
		body = zr
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, URL: url, Body: snippet(raw)}
	}
	return decodeBody(resp.Header.Get("Content-Type"), raw)
}

func decodeBody(contentType string, raw []byte) (*Response, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	out := &Response{ContentType: mediaType, Body: raw}
	switch mediaType {
	case "application/octet-stream":
	case "application/json":
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &out.JSON); err != nil {
				return nil, fmt.Errorf("failed to decode json body: %w", err)
			}
		}
	default:
		out.Text = string(raw)
	}
	return out, nil
}

func snippet(raw []byte) string {
	const max = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max]
	}
	return s
}
