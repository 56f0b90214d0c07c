package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// fakeS3 — минимальный S3 с path-style адресацией, поддерживающий Range.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	ranges  []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		rng := r.Header.Get("Range")
		f.ranges = append(f.ranges, rng)
		if rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
		var start, end int
		bounds := strings.TrimPrefix(rng, "bytes=")
		if strings.HasSuffix(bounds, "-") {
			start, _ = strconv.Atoi(strings.TrimSuffix(bounds, "-"))
			end = len(data) - 1
		} else {
			fmt.Sscanf(bounds, "%d-%d", &start, &end)
			end = min(end, len(data)-1)
		}
		part := data[start : end+1]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(part)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(part)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Options{
		Endpoint:     srv.URL,
		Region:       "us-east-1",
		Bucket:       "bucket",
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
		SpoolDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	return store, fake
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	return string(data)
}

// TestGet_Ranges проверяет, что диапазоны передаются в заголовке Range.
func TestGet_Ranges(t *testing.T) {
	store, fake := newTestStore(t)
	fake.objects["files/f1/_master/k"] = []byte("0123456789")
	ctx := context.Background()

	tests := []struct {
		offset, length int64
		want, header   string
	}{
		{0, -1, "0123456789", ""},
		{2, 4, "2345", "bytes=2-5"},
		{7, -1, "789", "bytes=7-"},
	}

	for i, tt := range tests {
		rc, err := store.Get(ctx, "files/f1/_master/k", tt.offset, tt.length)
		if err != nil {
			t.Fatalf("Get(%d, %d): %v", tt.offset, tt.length, err)
		}
		if got := readAll(t, rc); got != tt.want {
			t.Errorf("Get(%d, %d): ожидалось %q, получено %q", tt.offset, tt.length, tt.want, got)
		}
		if fake.ranges[i] != tt.header {
			t.Errorf("Range: ожидалось %q, получено %q", tt.header, fake.ranges[i])
		}
	}
}

// TestGet_ZeroLength проверяет, что пустой диапазон не обращается к S3.
func TestGet_ZeroLength(t *testing.T) {
	store, fake := newTestStore(t)

	rc, err := store.Get(context.Background(), "any", 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := readAll(t, rc); got != "" {
		t.Errorf("ожидалась пустая строка, получено %q", got)
	}
	if len(fake.ranges) != 0 {
		t.Error("пустой диапазон не должен обращаться к S3")
	}
}

// TestGet_NotFound проверяет перевод NoSuchKey в ErrNotFound.
func TestGet_NotFound(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get(context.Background(), "missing", 0, -1); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestPutAndDelete проверяет загрузку несикабельного потока и удаление.
func TestPutAndDelete(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	// io.MultiReader не реализует io.Seeker — содержимое идёт через временный файл
	body := io.MultiReader(strings.NewReader("Hello, "), strings.NewReader("World!"))
	res, err := store.Put(ctx, "files/f1/_master/k", body)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.Size != 13 {
		t.Errorf("размер: ожидалось 13, получено %d", res.Size)
	}
	if res.Checksum != "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f" {
		t.Errorf("checksum: получено %s", res.Checksum)
	}
	if _, ok := fake.objects["files/f1/_master/k"]; !ok {
		t.Fatal("объект не загружен")
	}

	if err := store.Delete(ctx, "files/f1/_master/k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := fake.objects["files/f1/_master/k"]; ok {
		t.Error("объект должен быть удалён")
	}
}

// TestRangeHeader проверяет формат заголовка Range.
func TestRangeHeader(t *testing.T) {
	tests := []struct {
		offset, length int64
		want           string
	}{
		{0, -1, ""},
		{5, -1, "bytes=5-"},
		{0, 1, "bytes=0-0"},
		{2, 4, "bytes=2-5"},
	}
	for _, tt := range tests {
		if got := rangeHeader(tt.offset, tt.length); got != tt.want {
			t.Errorf("rangeHeader(%d, %d): ожидалось %q, получено %q", tt.offset, tt.length, tt.want, got)
		}
	}
}
