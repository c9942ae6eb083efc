package ledger

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/slot"
)

type memKV struct {
	data     map[string][]byte
	setCalls int
	failSet  bool
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Set(key string, value []byte, _ time.Duration) error {
	m.setCalls++
	if m.failSet {
		return errors.New("kv unavailable")
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Get(key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (m *memKV) GetDel(key string) ([]byte, error) {
	v, err := m.Get(key)
	delete(m.data, key)
	return v, err
}

func (m *memKV) Del(key string) error {
	delete(m.data, key)
	return nil
}

func (m *memKV) Keys(prefix string) ([]string, error) {
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKV) Once(_ string, _ time.Duration, fn func() error) (bool, error) {
	return true, fn()
}

func newStore(kv domain.KV) *Store {
	return New(kv, zerolog.Nop())
}

func TestEnsureCreatesDefaultSkeleton(t *testing.T) {
	store := newStore(newMemKV())
	rec, err := store.Ensure("2025-10-21")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rec.Hours) != slot.Count {
		t.Fatalf("ожидали %d слотов, получили %d", slot.Count, len(rec.Hours))
	}
	if rec.Goal != "" {
		t.Fatalf("цель нового дня должна быть пустой")
	}
	if rec.Hours[0].StartHour != 8 || rec.Hours[15].StartHour != 23 {
		t.Fatalf("каноническая сетка должна идти с 8 до 23")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	store := newStore(newMemKV())
	if err := store.SetGoal("2025-10-21", "сдать отчёт"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	first, err := store.Ensure("2025-10-21")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := store.Ensure("2025-10-21")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Goal != second.Goal || len(first.Hours) != len(second.Hours) {
		t.Fatalf("повторный Ensure должен вернуть ту же запись")
	}
	if second.Goal != "сдать отчёт" {
		t.Fatalf("Ensure не должен пересоздавать каркас поверх существующей записи")
	}
}

func TestEnsureRejectsInvalidDate(t *testing.T) {
	store := newStore(newMemKV())
	if _, err := store.Ensure("21.10.2025"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("ожидали ErrInvalidDate, получили %v", err)
	}
}

func TestPatchHourKeepsOtherFields(t *testing.T) {
	store := newStore(newMemKV())
	body := "писал код"
	if err := store.PatchHour("2025-10-21", 2, HourPatch{Body: &body}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	aligned := true
	if err := store.PatchHour("2025-10-21", 2, HourPatch{Aligned: &aligned}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	rec, _ := store.Get("2025-10-21")
	got := rec.Hours[2]
	if got.Body != "писал код" {
		t.Fatalf("патч aligned не должен затирать body, получили %q", got.Body)
	}
	if got.Aligned == nil || !*got.Aligned {
		t.Fatalf("ожидали aligned=true")
	}
}

func TestMutationsSurviveKVFailure(t *testing.T) {
	kv := newMemKV()
	kv.failSet = true
	store := newStore(kv)
	if err := store.SetGoal("2025-10-21", "цель"); err != nil {
		t.Fatalf("отказ KV не должен ронять мутацию: %v", err)
	}
	rec, ok := store.Get("2025-10-21")
	if !ok || rec.Goal != "цель" {
		t.Fatalf("память должна остаться источником истины")
	}
}

func TestResetRemovesMemoryAndDurable(t *testing.T) {
	kv := newMemKV()
	store := newStore(kv)
	if _, err := store.Ensure("2025-10-21"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := store.Reset("2025-10-21"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := store.Get("2025-10-21"); ok {
		t.Fatalf("запись должна быть удалена из памяти")
	}
	if _, err := kv.Get(keyFor("2025-10-21")); err == nil {
		t.Fatalf("запись должна быть удалена из KV")
	}
}

func TestLoadAllDoesNotOverwriteMemory(t *testing.T) {
	kv := newMemKV()
	seed := newStore(kv)
	if err := seed.SetGoal("2025-10-20", "из KV"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	store := newStore(kv)
	kv.failSet = true
	if err := store.SetGoal("2025-10-20", "из памяти"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	kv.failSet = false
	dates := store.LoadAll()
	if len(dates) != 1 || dates[0] != "2025-10-20" {
		t.Fatalf("ожидали одну известную дату, получили %v", dates)
	}
	rec, _ := store.Get("2025-10-20")
	if rec.Goal != "из памяти" {
		t.Fatalf("LoadAll не должен затирать записи в памяти, получили %q", rec.Goal)
	}
}
