// hold.go — удержания соединений.
//
// На каждое клиентское соединение (ключ — удалённый адрес) приходится
// один permit веса 1. Транспорт берёт удержание до диспетчеризации
// запроса; следующий запрос того же соединения ждёт, пока удержание
// не будет отпущено. Download и Delete отпускают его сразу, Upload —
// после прихода последнего байта, до публикации копии.
package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Holds — таблица permit-ов соединений.
type Holds struct {
	mu    sync.Mutex
	conns map[string]*connSlot
}

type connSlot struct {
	sem  *semaphore.Weighted
	refs int // держатели и ожидающие
}

// NewHolds создаёт пустую таблицу.
func NewHolds() *Holds {
	return &Holds{conns: make(map[string]*connSlot)}
}

// Acquire ждёт permit соединения conn. Ошибка — только отмена ctx.
func (h *Holds) Acquire(ctx context.Context, conn string) (*Hold, error) {
	h.mu.Lock()
	slot, ok := h.conns[conn]
	if !ok {
		slot = &connSlot{sem: semaphore.NewWeighted(1)}
		h.conns[conn] = slot
	}
	slot.refs++
	h.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		h.unref(conn, slot)
		return nil, err
	}

	hold := &Hold{}
	hold.release = func() {
		slot.sem.Release(1)
		h.unref(conn, slot)
	}
	return hold, nil
}

func (h *Holds) unref(conn string, slot *connSlot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(h.conns, conn)
	}
}

// Len возвращает количество соединений с активными или ожидающими удержаниями.
func (h *Holds) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Hold — удержание одного соединения.
type Hold struct {
	once    sync.Once
	release func()
}

// Release отпускает удержание. Повторные вызовы и вызов на nil ничего не делают.
func (h *Hold) Release() {
	if h == nil || h.release == nil {
		return
	}
	h.once.Do(h.release)
}

// keyedMutex — мьютекс на ключ; записи удаляются, когда их никто не держит.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
