// resources.go — HTTP-таблицы маршрутов коллекций.
//
// Для коллекции с базовым путём <base>:
//
//	<base>                             POST            создание файла
//	<base>/{id}[/{selector}]           GET PUT DELETE POST
//	<base>/download/{id}[/{selector}]  GET             с Content-Disposition: attachment
//
// Каждый запрос держит удержание соединения (service.Holds) до конца
// обработки; операции отпускают его раньше сами.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/bigkaa/goartstore/access-point/internal/api/errors"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/service"
)

// ResourceConfig — коллекция, для которой строятся маршруты.
type ResourceConfig struct {
	Name     string
	BasePath string
	// HTTPHeaders — дополнительные заголовки ответов GET
	HTTPHeaders map[string]string
}

// Resources — общие зависимости файловых маршрутов.
type Resources struct {
	AP    *service.AccessPoint
	Holds *service.Holds
	// MaxChunkSize — предел тела одного PUT
	MaxChunkSize int64
	Logger       *slog.Logger
}

// AccessPointsHTTP возвращает таблицу маршрутов upload/download/delete коллекции.
// Ключ — шаблон пути chi.
func AccessPointsHTTP(res *Resources, cfg ResourceConfig) map[string]http.Handler {
	direct := &accessPoint{res: res, cfg: cfg}
	attachment := &accessPoint{res: res, cfg: cfg, attachment: true}

	return map[string]http.Handler{
		cfg.BasePath + "/{id}":                     direct,
		cfg.BasePath + "/{id}/{selector}":          direct,
		cfg.BasePath + "/download/{id}":            attachment,
		cfg.BasePath + "/download/{id}/{selector}": attachment,
	}
}

// InsertPointHTTP возвращает маршрут создания файлов коллекции.
func InsertPointHTTP(res *Resources, cfg ResourceConfig) map[string]http.Handler {
	return map[string]http.Handler{
		cfg.BasePath: &insertPoint{res: res, cfg: cfg},
	}
}

// declaration — тело POST: объявление копии.
type declaration struct {
	ID          string `json:"id,omitempty"`
	Selector    string `json:"selector,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        *int64 `json:"size"`
}

func decodeDeclaration(r *http.Request) (*declaration, error) {
	var d declaration
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("Некорректный JSON: %w", err)
	}
	if d.Size == nil {
		return nil, stderrors.New("Поле 'size' обязательно")
	}
	return &d, nil
}

type accessPoint struct {
	res        *Resources
	cfg        ResourceConfig
	attachment bool
}

func (h *accessPoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hold, err := h.res.Holds.Acquire(r.Context(), r.RemoteAddr)
	if err != nil {
		// клиент отключился, пока ждал своей очереди
		return
	}
	defer hold.Release()

	id, selector, err := pathParams(r)
	if err != nil {
		errors.ValidationError(w, err.Error())
		return
	}

	switch {
	case r.Method == http.MethodGet:
		h.download(w, r, id, selector, hold)
	case h.attachment:
		w.Header().Set("Allow", http.MethodGet)
		errors.MethodNotAllowed(w, "Метод "+r.Method+" не поддерживается")
	case r.Method == http.MethodPut:
		h.upload(w, r, id, selector, hold)
	case r.Method == http.MethodDelete:
		h.remove(w, r, id, hold)
	case r.Method == http.MethodPost:
		h.prepare(w, r, id, selector)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE, POST")
		errors.MethodNotAllowed(w, "Метод "+r.Method+" не поддерживается")
	}
}

func (h *accessPoint) download(w http.ResponseWriter, r *http.Request, id, selector string, hold *service.Hold) {
	rng, err := rangeParams(r)
	if err != nil {
		errors.ValidationError(w, err.Error())
		return
	}

	content, err := h.res.AP.Download(r.Context(), service.DownloadRequest{
		Collection: h.cfg.Name,
		ID:         id,
		Selector:   selector,
		Range:      rng,
		Hold:       hold,
	})
	if err != nil {
		errors.FromError(w, h.res.Logger, err)
		return
	}
	defer content.Reader.Close()

	contentType := content.Representation.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(content.Length, 10))
	if h.attachment {
		w.Header().Set("Content-Disposition", contentDisposition(content.Representation.Name))
	}
	// заголовки коллекции применяются последними и могут заменить стандартные
	for k, v := range h.cfg.HTTPHeaders {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content.Reader); err != nil {
		h.res.Logger.Warn("Ошибка отправки содержимого",
			slog.String("collection", h.cfg.Name),
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (h *accessPoint) upload(w http.ResponseWriter, r *http.Request, id, selector string, hold *service.Hold) {
	var offset *int64
	if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &offset); err != nil {
		errors.ValidationError(w, "Некорректный параметр offset: "+err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.res.MaxChunkSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			errors.FileTooLarge(w, fmt.Sprintf("Чанк больше %d байт", maxErr.Limit))
			return
		}
		errors.ValidationError(w, "Ошибка чтения тела запроса")
		return
	}

	result, err := h.res.AP.Upload(r.Context(), service.UploadRequest{
		Collection: h.cfg.Name,
		ID:         id,
		Selector:   selector,
		Data:       data,
		Offset:     offset,
		Hold:       hold,
	})
	if err != nil {
		errors.FromError(w, h.res.Logger, err)
		return
	}

	status := http.StatusAccepted
	if result.Complete {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (h *accessPoint) remove(w http.ResponseWriter, r *http.Request, id string, hold *service.Hold) {
	err := h.res.AP.Delete(r.Context(), service.DeleteRequest{
		Collection: h.cfg.Name,
		ID:         id,
		Hold:       hold,
	})
	if err != nil {
		errors.FromError(w, h.res.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *accessPoint) prepare(w http.ResponseWriter, r *http.Request, id, selector string) {
	d, err := decodeDeclaration(r)
	if err != nil {
		errors.ValidationError(w, err.Error())
		return
	}

	rec, err := h.res.AP.Prepare(r.Context(), service.PrepareRequest{
		Collection:  h.cfg.Name,
		ID:          id,
		Selector:    selector,
		Name:        d.Name,
		ContentType: d.ContentType,
		Size:        *d.Size,
	})
	if err != nil {
		errors.FromError(w, h.res.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFileView(rec))
}

type insertPoint struct {
	res *Resources
	cfg ResourceConfig
}

func (h *insertPoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		errors.MethodNotAllowed(w, "Метод "+r.Method+" не поддерживается")
		return
	}

	hold, err := h.res.Holds.Acquire(r.Context(), r.RemoteAddr)
	if err != nil {
		return
	}
	defer hold.Release()

	d, err := decodeDeclaration(r)
	if err != nil {
		errors.ValidationError(w, err.Error())
		return
	}

	rec, err := h.res.AP.Insert(r.Context(), service.InsertRequest{
		Collection:  h.cfg.Name,
		ID:          d.ID,
		Selector:    d.Selector,
		Name:        d.Name,
		ContentType: d.ContentType,
		Size:        *d.Size,
	})
	if err != nil {
		errors.FromError(w, h.res.Logger, err)
		return
	}

	w.Header().Set("Location", h.cfg.BasePath+"/"+rec.ID)
	writeJSON(w, http.StatusCreated, newFileView(rec))
}

// contentDisposition — attachment; filename="<имя>" с экранированием " и \.
// Для имён вне ASCII добавляется filename* (RFC 6266).
func contentDisposition(name string) string {
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	value := `attachment; filename="` + quoted + `"`
	for _, r := range name {
		if r >= utf8.RuneSelf {
			return value + "; filename*=UTF-8''" + strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
		}
	}
	return value
}

// pathParams извлекает {id} и необязательный {selector}.
func pathParams(r *http.Request) (id, selector string, err error) {
	opts := runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true}

	if err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, opts); err != nil {
		return "", "", fmt.Errorf("Некорректный параметр id: %w", err)
	}
	if raw := chi.URLParam(r, "selector"); raw != "" {
		if err := runtime.BindStyledParameterWithOptions("simple", "selector", raw, &selector, opts); err != nil {
			return "", "", fmt.Errorf("Некорректный параметр selector: %w", err)
		}
	}
	return id, selector, nil
}

// rangeParams читает диапазон из query start и end (включительно).
func rangeParams(r *http.Request) (model.ByteRange, error) {
	var rng model.ByteRange
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "start", query, &rng.Start); err != nil {
		return rng, fmt.Errorf("Некорректный параметр start: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "end", query, &rng.End); err != nil {
		return rng, fmt.Errorf("Некорректный параметр end: %w", err)
	}
	return rng, nil
}

// copyView — опубликованная копия в ответе API (без ключа хранилища).
type copyView struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	StoredAt    time.Time `json:"stored_at"`
}

// fileView — дескриптор файла в ответе API.
type fileView struct {
	ID         string                       `json:"id"`
	Collection string                       `json:"collection"`
	Owner      string                       `json:"owner,omitempty"`
	Copies     map[string]copyView          `json:"copies"`
	Pending    map[string]model.PendingCopy `json:"pending,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

func newFileView(rec *model.FileRecord) fileView {
	copies := make(map[string]copyView, len(rec.Copies))
	for sel, rep := range rec.Copies {
		copies[sel] = copyView{
			Name:        rep.Name,
			ContentType: rep.ContentType,
			Size:        rep.Size,
			Checksum:    rep.Checksum,
			StoredAt:    rep.StoredAt,
		}
	}
	return fileView{
		ID:         rec.ID,
		Collection: rec.Collection,
		Owner:      rec.Owner,
		Copies:     copies,
		Pending:    rec.Pending,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
