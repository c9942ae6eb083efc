package ledger

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/slot"
)

const keyPrefix = "stoptrolling:day:"

// ErrInvalidDate возвращается на некорректный ключ даты.
var ErrInvalidDate = errors.New("ledger: invalid date (YYYY-MM-DD)")

// ErrIndexOutOfRange возвращается на индекс слота вне канонической сетки.
var ErrIndexOutOfRange = errors.New("ledger: hour index out of range")

// HourPatch — частичное обновление слота. nil-поля не трогаются.
type HourPatch struct {
	Body    *string
	Aligned *bool
}

// Store — кэш дневных записей в памяти с синхронной записью в долговременное
// KV-хранилище. Ошибки записи в KV проглатываются: на время сессии память
// остаётся источником истины.
type Store struct {
	mu   sync.Mutex
	days map[string]*domain.DayRecord
	kv   domain.KV
	log  zerolog.Logger
}

// New создаёт стор поверх KV-хранилища.
func New(kv domain.KV, logger zerolog.Logger) *Store {
	return &Store{
		days: make(map[string]*domain.DayRecord),
		kv:   kv,
		log:  logger,
	}
}

func keyFor(date string) string { return keyPrefix + date }

// Get возвращает запись, если она уже загружена в память.
func (s *Store) Get(date string) (domain.DayRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.days[date]
	if !ok {
		return domain.DayRecord{}, false
	}
	return cloneRecord(rec), true
}

// Ensure гарантирует наличие записи: берёт из памяти, затем из KV,
// иначе создаёт пустой каркас из 16 слотов. Запись сохраняется в KV
// при первом касании.
func (s *Store) Ensure(date string) (domain.DayRecord, error) {
	if !slot.IsDateKey(date) {
		return domain.DayRecord{}, ErrInvalidDate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(date)
	s.persistLocked(date, rec)
	return cloneRecord(rec), nil
}

func (s *Store) ensureLocked(date string) *domain.DayRecord {
	if rec, ok := s.days[date]; ok {
		return rec
	}
	rec := s.loadDurable(date)
	if rec == nil {
		rec = &domain.DayRecord{Goal: "", Hours: slot.DefaultHours()}
	}
	s.days[date] = rec
	return rec
}

// ReplaceHours заменяет все слоты даты.
func (s *Store) ReplaceHours(date string, hours []domain.HourSlot) error {
	if !slot.IsDateKey(date) {
		return ErrInvalidDate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(date)
	rec.Hours = append([]domain.HourSlot(nil), hours...)
	s.persistLocked(date, rec)
	return nil
}

// SetHour полностью заменяет слот по индексу.
func (s *Store) SetHour(date string, index int, entry domain.HourSlot) error {
	if !slot.IsDateKey(date) {
		return ErrInvalidDate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(date)
	if index < 0 || index >= len(rec.Hours) {
		return ErrIndexOutOfRange
	}
	rec.Hours[index] = entry
	s.persistLocked(date, rec)
	return nil
}

// PatchHour обновляет отдельные поля слота по индексу.
func (s *Store) PatchHour(date string, index int, patch HourPatch) error {
	if !slot.IsDateKey(date) {
		return ErrInvalidDate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(date)
	if index < 0 || index >= len(rec.Hours) {
		return ErrIndexOutOfRange
	}
	if patch.Body != nil {
		rec.Hours[index].Body = *patch.Body
	}
	if patch.Aligned != nil {
		aligned := *patch.Aligned
		rec.Hours[index].Aligned = &aligned
	}
	s.persistLocked(date, rec)
	return nil
}

// SetGoal задаёт цель дня.
func (s *Store) SetGoal(date, goal string) error {
	if !slot.IsDateKey(date) {
		return ErrInvalidDate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(date)
	rec.Goal = goal
	s.persistLocked(date, rec)
	return nil
}

// Reset удаляет дату из памяти и из KV.
func (s *Store) Reset(date string) error {
	if !slot.IsDateKey(date) {
		return ErrInvalidDate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.days, date)
	if err := s.kv.Del(keyFor(date)); err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("ledger: не удалось удалить запись из KV")
	}
	return nil
}

// LoadAll подгружает из KV все даты, которых ещё нет в памяти,
// и возвращает полный список известных дат.
func (s *Store) LoadAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(s.days))
	for date := range s.days {
		known[date] = struct{}{}
	}

	keys, err := s.kv.Keys(keyPrefix)
	if err != nil {
		s.log.Warn().Err(err).Msg("ledger: не удалось перечислить ключи KV")
	}
	for _, k := range keys {
		date := strings.TrimPrefix(k, keyPrefix)
		if !slot.IsDateKey(date) {
			continue
		}
		if _, ok := s.days[date]; ok {
			known[date] = struct{}{}
			continue
		}
		rec := s.loadDurable(date)
		if rec == nil {
			rec = &domain.DayRecord{Goal: "", Hours: slot.DefaultHours()}
		}
		s.days[date] = rec
		known[date] = struct{}{}
	}

	dates := make([]string, 0, len(known))
	for date := range known {
		dates = append(dates, date)
	}
	return dates
}

func (s *Store) loadDurable(date string) *domain.DayRecord {
	data, err := s.kv.Get(keyFor(date))
	if err != nil || len(data) == 0 {
		return nil
	}
	var rec domain.DayRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("ledger: повреждённая запись в KV")
		return nil
	}
	return &rec
}

// persistLocked — синхронная best-effort запись в KV.
func (s *Store) persistLocked(date string, rec *domain.DayRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("ledger: не удалось сериализовать запись")
		return
	}
	if err := s.kv.Set(keyFor(date), data, 0); err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("ledger: не удалось сохранить запись в KV")
	}
}

func cloneRecord(rec *domain.DayRecord) domain.DayRecord {
	out := domain.DayRecord{Goal: rec.Goal, Hours: make([]domain.HourSlot, len(rec.Hours))}
	copy(out.Hours, rec.Hours)
	for i, h := range out.Hours {
		if h.Aligned != nil {
			aligned := *h.Aligned
			out.Hours[i].Aligned = &aligned
		}
	}
	return out
}
