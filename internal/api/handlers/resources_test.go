package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/access-point/internal/collection"
	"github.com/bigkaa/goartstore/access-point/internal/domain/access"
	"github.com/bigkaa/goartstore/access-point/internal/domain/mode"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/events"
	"github.com/bigkaa/goartstore/access-point/internal/service"
	"github.com/bigkaa/goartstore/access-point/internal/storage/filestore"
	"github.com/bigkaa/goartstore/access-point/internal/storage/index"
	"github.com/bigkaa/goartstore/access-point/internal/storage/tempstore"
	"github.com/bigkaa/goartstore/access-point/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	router http.Handler
	sm     *mode.StateMachine
	engine *collection.Engine
	temp   *tempstore.Store
}

// actorHeader — тестовая идентичность: X-Test-Actor кладёт актора в контекст.
func actorHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-Actor"); id != "" {
			r = r.WithContext(model.WithActor(r.Context(), model.Actor{ID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

// newTestEnv поднимает коллекцию files: insert — authenticated,
// download — anyone, remove — owner.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithHeaders(t, map[string]string{"Cache-Control": "private, max-age=60"})
}

// newTestEnvWithHeaders — то же, с дополнительными заголовками ответов GET.
func newTestEnvWithHeaders(t *testing.T, headers map[string]string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	meta := index.New(filepath.Join(dir, "meta"), testLogger())
	if err := meta.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	blobs, err := filestore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	w, err := wal.New(filepath.Join(dir, "wal"), testLogger())
	if err != nil {
		t.Fatalf("wal.New: %v", err)
	}
	temp, err := tempstore.New(filepath.Join(dir, "tmp"), 100, time.Hour, testLogger())
	if err != nil {
		t.Fatalf("tempstore.New: %v", err)
	}
	set, err := access.CompileSet(map[model.PermissionClass]access.RuleNames{
		model.PermInsert:   {Allow: []string{"authenticated"}},
		model.PermDownload: {Allow: []string{"anyone"}},
		model.PermRemove:   {Allow: []string{"owner"}},
	})
	if err != nil {
		t.Fatalf("CompileSet: %v", err)
	}
	sm, err := mode.NewStateMachine(mode.ModeRW)
	if err != nil {
		t.Fatalf("NewStateMachine: %v", err)
	}

	engine := collection.New(meta, blobs, w, events.Nop{}, testLogger())
	ap := service.NewAccessPoint(
		engine,
		service.NewAssembler(engine, temp, testLogger()),
		service.NewResolver(engine),
		access.NewGate(false, testLogger()),
		access.NewRegistry(map[string]access.ValidatorSet{"files": set}),
		sm,
		1<<20,
		testLogger(),
	)

	res := &Resources{AP: ap, Holds: service.NewHolds(), MaxChunkSize: 16, Logger: testLogger()}
	cfg := ResourceConfig{
		Name:        "files",
		BasePath:    "/files",
		HTTPHeaders: headers,
	}

	router := chi.NewRouter()
	router.Use(actorHeader)
	for pattern, h := range InsertPointHTTP(res, cfg) {
		router.Handle(pattern, h)
	}
	for pattern, h := range AccessPointsHTTP(res, cfg) {
		router.Handle(pattern, h)
	}

	return &testEnv{router: router, sm: sm, engine: engine, temp: temp}
}

func (e *testEnv) do(t *testing.T, method, target, actor string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequestWithContext(context.Background(), method, target, reader)
	if actor != "" {
		req.Header.Set("X-Test-Actor", actor)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) insert(t *testing.T, id string, size int64) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"id": id, "name": id + ".txt", "content_type": "text/plain", "size": size})
	rec := e.do(t, http.MethodPost, "/files", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /files: %d %s", rec.Code, rec.Body.String())
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело ошибки: %v", err)
	}
	return body.Error.Code
}

func TestFilesScenario(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "f1", 10)

	rec := env.do(t, http.MethodPut, "/files/f1?offset=0", "alice", []byte("01234"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("первый чанк: %d %s", rec.Code, rec.Body.String())
	}
	var partial service.AssemblyResult
	if err := json.NewDecoder(rec.Body).Decode(&partial); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if partial.Complete || partial.BytesWritten != 5 || partial.Copy != model.MasterCopy {
		t.Errorf("первый чанк: %+v", partial)
	}

	rec = env.do(t, http.MethodPut, "/files/f1?offset=5", "alice", []byte("56789"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("последний чанк: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/files/f1", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "0123456789" {
		t.Fatalf("GET: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type: %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Cache-Control") != "private, max-age=60" {
		t.Errorf("дополнительный заголовок: %q", rec.Header().Get("Cache-Control"))
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Error("прямой маршрут не должен отдавать Content-Disposition")
	}

	rec = env.do(t, http.MethodGet, "/files/f1?start=2&end=5", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "2345" {
		t.Fatalf("GET диапазона: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "4" {
		t.Errorf("Content-Length: %q", rec.Header().Get("Content-Length"))
	}

	rec = env.do(t, http.MethodDelete, "/files/f1", "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/files/f1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET после удаления: %d", rec.Code)
	}
}

func TestDownloadRoute_Attachment(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "f1", 3)
	env.do(t, http.MethodPut, "/files/f1", "alice", []byte("abc"))

	rec := env.do(t, http.MethodGet, "/files/download/f1", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "abc" {
		t.Fatalf("GET: %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="f1.txt"` {
		t.Errorf("Content-Disposition: %q", got)
	}

	rec = env.do(t, http.MethodGet, "/files/download/f1/_master?end=0", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "a" {
		t.Errorf("GET с селектором: %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/files/download/f1", "alice", []byte("abc"))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT на download-маршрут: %d", rec.Code)
	}
}

func TestSelectorCopies(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "f1", 3)
	env.do(t, http.MethodPut, "/files/f1", "alice", []byte("abc"))

	rec := env.do(t, http.MethodPost, "/files/f1/thumb", "alice", []byte(`{"name":"t.png","content_type":"image/png","size":2}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST thumb: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPut, "/files/f1/thumb?offset=0", "alice", []byte("xy"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("PUT thumb: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/files/f1/thumb", "", nil)
	if rec.Body.String() != "xy" || rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("thumb: %q %q", rec.Body.String(), rec.Header().Get("Content-Type"))
	}
	if rec = env.do(t, http.MethodGet, "/files/f1/_master", "", nil); rec.Body.String() != "abc" {
		t.Errorf("_master: %q", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/files/f1/preview", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный селектор: %d", rec.Code)
	}

	if rec = env.do(t, http.MethodDelete, "/files/f1", "alice", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: %d", rec.Code)
	}
	for _, path := range []string{"/files/f1", "/files/f1/thumb"} {
		if rec = env.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s после удаления: %d", path, rec.Code)
		}
	}
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "f1", 4)

	tests := []struct {
		name       string
		method     string
		target     string
		actor      string
		body       []byte
		wantStatus int
		wantCode   string
	}{
		{"неизвестный id", http.MethodGet, "/files/missing", "", nil, http.StatusNotFound, "NOT_FOUND"},
		{"ещё не загружен", http.MethodGet, "/files/f1", "", nil, http.StatusNotFound, "NOT_FOUND"},
		{"анонимная загрузка", http.MethodPut, "/files/f1?offset=0", "", []byte("ab"), http.StatusForbidden, "FORBIDDEN"},
		{"удаление не владельцем", http.MethodDelete, "/files/f1", "bob", nil, http.StatusForbidden, "FORBIDDEN"},
		{"offset не число", http.MethodPut, "/files/f1?offset=abc", "alice", []byte("ab"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"часть без offset", http.MethodPut, "/files/f1", "alice", []byte("ab"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"чанк больше предела", http.MethodPut, "/files/f1?offset=0", "alice", bytes.Repeat([]byte("x"), 17), http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{"start не число", http.MethodGet, "/files/f1?start=x", "", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"метод", http.MethodPatch, "/files/f1", "alice", nil, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"POST без size", http.MethodPost, "/files", "alice", []byte(`{"id":"f2"}`), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"повторный id", http.MethodPost, "/files", "alice", []byte(`{"id":"f1","size":1}`), http.StatusConflict, "CONFLICT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.actor, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("статус: хотели %d, получили %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("код: хотели %s, получили %s", tt.wantCode, code)
			}
		})
	}
}

func TestInvalidRange(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "f1", 4)
	env.do(t, http.MethodPut, "/files/f1", "alice", []byte("abcd"))

	rec := env.do(t, http.MethodGet, "/files/f1?start=4", "", nil)
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("статус: %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_RANGE" {
		t.Errorf("код: %s", code)
	}
}

func TestResendAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "f1", 2)

	if rec := env.do(t, http.MethodPut, "/files/f1?offset=0", "alice", []byte("ab")); rec.Code != http.StatusCreated {
		t.Fatalf("PUT: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPut, "/files/f1?offset=0", "alice", []byte("ab"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("повторная отправка: %d", rec.Code)
	}
}

func TestReadOnlyMode(t *testing.T) {
	env := newTestEnv(t)
	if err := env.sm.TransitionTo(mode.ModeRO, false, "admin"); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/files", "alice", []byte(`{"id":"f1","size":1}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("POST в ro: %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "MODE_NOT_ALLOWED" {
		t.Errorf("код: %s", code)
	}
}

func TestInsert_GeneratedID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/files", "alice", []byte(`{"size":3}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST: %d %s", rec.Code, rec.Body.String())
	}
	raw := rec.Body.String()
	var view fileView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID == "" || view.Owner != "alice" {
		t.Errorf("дескриптор: %+v", view)
	}
	if loc := rec.Header().Get("Location"); loc != "/files/"+view.ID {
		t.Errorf("Location: %q", loc)
	}
	if _, ok := view.Pending[model.MasterCopy]; !ok {
		t.Error("нет ожидания _master")
	}
	if strings.Contains(raw, `"key"`) {
		t.Error("ключ хранилища не должен попадать в ответ")
	}
}

func TestDownloadRoute_ExtraHeadersOverride(t *testing.T) {
	env := newTestEnvWithHeaders(t, map[string]string{
		"Content-Type":        "application/x-artstore",
		"Content-Disposition": "inline",
	})
	env.insert(t, "f1", 3)
	env.do(t, http.MethodPut, "/files/f1", "alice", []byte("abc"))

	rec := env.do(t, http.MethodGet, "/files/download/f1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-artstore" {
		t.Errorf("Content-Type должен быть заменён заголовком коллекции: %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "inline" {
		t.Errorf("Content-Disposition должен быть заменён заголовком коллекции: %q", got)
	}
}

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"f1.txt", `attachment; filename="f1.txt"`},
		{"my report.pdf", `attachment; filename="my report.pdf"`},
		{`a"b\c.txt`, `attachment; filename="a\"b\\c.txt"`},
		{"отчёт.txt", `attachment; filename="отчёт.txt"; filename*=UTF-8''%D0%BE%D1%82%D1%87%D1%91%D1%82.txt`},
	}
	for _, tt := range tests {
		if got := contentDisposition(tt.name); got != tt.want {
			t.Errorf("contentDisposition(%q): хотели %s, получили %s", tt.name, tt.want, got)
		}
	}
}
