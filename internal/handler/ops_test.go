package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"shoppoller/internal/kv"
	"shoppoller/internal/registry"
	"shoppoller/internal/service"
	"shoppoller/internal/tasks"
)

type stubQueue struct {
	name    string
	ids     []uint
	records []tasks.Record
}

func (q *stubQueue) Submit(ctx context.Context, name string, worldIDs []uint) (string, error) {
	q.name = name
	q.ids = worldIDs
	return "task-1", nil
}

func (q *stubQueue) Running(ctx context.Context) ([]tasks.Record, error) {
	return q.records, nil
}

func newOpsEngine(h *OpsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUpdatePrices_SubmitsTask(t *testing.T) {
	q := &stubQueue{}
	r := newOpsEngine(&OpsHandler{Tasks: q})

	w := do(r, http.MethodPost, "/v1/update-prices", `{"world_ids":[3,1]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if q.name != tasks.NameUpdatePrices || len(q.ids) != 2 || q.ids[0] != 3 {
		t.Fatalf("submitted name=%s ids=%v", q.name, q.ids)
	}

	w = do(r, http.MethodPost, "/v1/update-prices", "")
	if w.Code != http.StatusAccepted || q.ids != nil {
		t.Fatalf("empty body status=%d ids=%v", w.Code, q.ids)
	}

	w = do(r, http.MethodPost, "/v1/update-prices", `{"world_ids":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad body status=%d", w.Code)
	}
}

func TestInflightAndJanitor(t *testing.T) {
	ctx := context.Background()
	reg := &registry.Registry{Store: kv.NewMemoryStore(), TTL: time.Hour}
	if _, err := reg.Reserve(ctx, []uint{2, 1}); err != nil {
		t.Fatalf("reserve err=%v", err)
	}
	q := &stubQueue{records: []tasks.Record{{ID: "a", Name: tasks.NameUpdatePrices, WorldIDs: []uint{1}}}}
	r := newOpsEngine(&OpsHandler{
		Tasks:    q,
		Registry: reg,
		Janitor:  &service.JanitorService{Registry: reg, Tasks: q},
	})

	w := do(r, http.MethodGet, "/v1/inflight", "")
	var resp struct {
		Data []uint `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0] != 1 {
		t.Fatalf("inflight=%v", resp.Data)
	}

	w = do(r, http.MethodPost, "/v1/janitor", "")
	if w.Code != http.StatusOK {
		t.Fatalf("janitor status=%d body=%s", w.Code, w.Body.String())
	}
	left, _ := reg.Snapshot(ctx)
	if len(left) != 1 {
		t.Fatalf("left=%v", left)
	}

	w = do(r, http.MethodGet, "/v1/tasks", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"update_prices"`) {
		t.Fatalf("tasks body=%s", w.Body.String())
	}
}

func TestRegisterDocs_ServesOpsPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDocs(r)

	w := do(r, http.MethodGet, "/swagger/doc.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode err=%v body=%s", err, w.Body.String())
	}
	for _, p := range []string{"/v1/update-prices", "/v1/janitor", "/v1/inflight", "/v1/tasks", "/v1/runs", "/readyz"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("doc missing %s", p)
		}
	}
}
