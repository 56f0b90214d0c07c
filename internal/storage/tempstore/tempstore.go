// Пакет tempstore — staging-файлы собираемых копий.
//
// Для каждой собираемой копии (коллекция, файл, селектор) ведётся
// сессия: staging-файл под AP_TEMP_DIR и множество записанных
// байтовых интервалов. Чанки пишутся через WriteAt по своему смещению,
// поэтому порядок прихода не важен. BytesWritten — покрытая длина
// объединения интервалов: повторная отправка чанка не увеличивает счётчик.
//
// Таблица сессий — expirable LRU: брошенные загрузки вытесняются по TTL
// или по размеру, вытеснение удаляет staging-файл.
package tempstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// partSuffix — суффикс staging-файла.
const partSuffix = ".part"

var uploadSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ap_upload_sessions",
	Help: "Количество активных сессий сборки копий",
})

// Key — идентификатор собираемой копии.
type Key struct {
	Collection string
	FileID     string
	Selector   string
}

func (k Key) String() string {
	return k.Collection + "/" + k.FileID + "/" + k.Selector
}

// State — снимок состояния сборки после записи чанка.
type State struct {
	Key          Key
	Expected     int64
	BytesWritten int64
}

// Complete — все Expected байт записаны.
func (s State) Complete() bool {
	return s.BytesWritten == s.Expected
}

type session struct {
	mu        sync.Mutex
	path      string
	expected  int64
	intervals intervals
}

// Store — таблица сессий и staging-директория.
type Store struct {
	dir      string
	mu       sync.Mutex
	sessions *expirable.LRU[Key, *session]
	logger   *slog.Logger
}

// New создаёт Store. maxSessions — размер таблицы (0 — без ограничения),
// ttl — время жизни сессии без новых чанков.
func New(dir string, maxSessions int, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать staging-директорию %s: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "tempstore")),
	}
	s.sessions = expirable.NewLRU[Key, *session](maxSessions, s.onEvict, ttl)
	return s, nil
}

// onEvict удаляет staging-файл вытесненной или удалённой сессии.
func (s *Store) onEvict(key Key, sess *session) {
	uploadSessions.Dec()
	if err := os.Remove(sess.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Не удалось удалить staging-файл",
			slog.String("key", key.String()),
			slog.String("path", sess.path),
			slog.String("error", err.Error()),
		)
	}
}

// SaveChunk записывает data по смещению offset в staging-файл копии key.
// expected — объявленная полная длина; при смене expected сессия
// начинается заново.
func (s *Store) SaveChunk(key Key, expected int64, data []byte, offset int64) (State, error) {
	end := offset + int64(len(data))
	if offset < 0 || end > expected {
		return State{}, model.NewError(model.ErrBadRequest,
			"чанк [%d, %d) выходит за пределы копии размером %d", offset, end, expected)
	}

	sess := s.session(key, expected)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(data) > 0 {
		if err := writeAt(sess.path, data, offset); err != nil {
			return State{}, err
		}
		sess.intervals = sess.intervals.add(offset, end)
	}
	// Add продлевает TTL активной сессии
	s.sessions.Add(key, sess)

	return State{Key: key, Expected: expected, BytesWritten: sess.intervals.covered()}, nil
}

// session возвращает сессию key, создавая её при необходимости.
func (s *Store) session(key Key, expected int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions.Get(key); ok {
		if sess.expected == expected {
			return sess
		}
		s.sessions.Remove(key)
	}

	sess := &session{
		path:     filepath.Join(s.dir, uuid.New().String()+partSuffix),
		expected: expected,
	}
	s.sessions.Add(key, sess)
	uploadSessions.Inc()
	return sess
}

// Open открывает собранное содержимое завершённой сессии.
func (s *Store) Open(key Key) (io.ReadCloser, error) {
	sess, ok := s.sessions.Peek(key)
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "сессия сборки %s не найдена", key)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.intervals.covered() != sess.expected {
		return nil, model.NewError(model.ErrConflict, "сборка %s не завершена", key)
	}

	// копия нулевой длины не создаёт staging-файл
	if sess.expected == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	f, err := os.Open(sess.path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия staging-файла %s: %w", key, err)
	}
	return f, nil
}

// Discard завершает сессию и удаляет staging-файл.
func (s *Store) Discard(key Key) {
	s.sessions.Remove(key)
}

// Len возвращает количество активных сессий.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// Dir возвращает staging-директорию.
func (s *Store) Dir() string {
	return s.dir
}

// Sweep удаляет staging-файлы без живой сессии, не изменявшиеся
// дольше olderThan (например, оставшиеся после рестарта).
// Возвращает количество удалённых файлов.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	live := make(map[string]bool)
	for _, sess := range s.sessions.Values() {
		live[sess.path] = true
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+partSuffix))
	if err != nil {
		return 0, fmt.Errorf("ошибка сканирования staging-директории: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, path := range matches {
		if live[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Не удалось удалить осиротевший staging-файл",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

func writeAt(path string, data []byte, offset int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка открытия staging-файла: %w", err)
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		f.Close()
		return fmt.Errorf("ошибка записи по смещению %d: %w", offset, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия staging-файла: %w", err)
	}
	return nil
}
