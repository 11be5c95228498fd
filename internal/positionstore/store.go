package positionstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
)

// Store — долговечный реестр позиций. Каждая мутация переписывает всю
// таблицу на диск: write tmp -> copy .bak -> atomic rename, так что
// упавший посреди записи процесс не оставит обрезанный основной файл,
// а предыдущее целое поколение всегда лежит в .bak.
//
// Частота записи — переходы стейт-машины, не тики, так что full-rewrite
// на мутацию нас устраивает.
type Store struct {
	path string

	mu    sync.Mutex
	table map[string]*models.PositionRecord
}

func NewStore(path string) *Store {
	s := &Store{
		path:  path,
		table: make(map[string]*models.PositionRecord),
	}
	s.load()
	return s
}

// load: нет файла — пустая таблица; битый файл — лог и пустая таблица,
// оператор восстановится из .bak руками. Не падаем никогда.
func (s *Store) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("positionstore: read %s: %v", s.path, err)
		}
		return
	}

	var records []*models.PositionRecord
	if err := sonic.Unmarshal(b, &records); err != nil {
		logger.Error("positionstore: corrupt %s, starting empty (recover from %s.bak): %v", s.path, s.path, err)
		return
	}

	for _, r := range records {
		if r == nil || r.ID == "" {
			continue
		}
		s.table[r.ID] = r
	}
}

// Add создаёт active-запись; существующий id — ошибка, молчаливых
// перезаписей не бывает.
func (s *Store) Add(id string, entry models.Entry, contract models.Contract, risk models.RiskConfig) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.Add: %w", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.table[id]; ok {
		return fmt.Errorf("position %q already exists", id)
	}

	s.table[id] = &models.PositionRecord{
		ID:        id,
		Status:    models.PositionActive,
		CreatedAt: time.Now(),
		Entry:     entry,
		Contract:  contract,
		Risk:      risk,
		Runtime: models.GuardianState{
			Remaining: entry.Qty,
			HighWater: entry.Price,
		},
	}

	return s.persistLocked()
}

func (s *Store) UpdateRuntimeState(id string, st models.GuardianState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.UpdateRuntimeState: %w", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.table[id]
	if !ok {
		return fmt.Errorf("position %q not found", id)
	}
	rec.Runtime = st

	return s.persistLocked()
}

func (s *Store) AppendFill(id string, f models.Fill) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.AppendFill: %w", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.table[id]
	if !ok {
		return fmt.Errorf("position %q not found", id)
	}
	rec.Fills = append(rec.Fills, f)

	return s.persistLocked()
}

func (s *Store) MarkClosed(id string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.MarkClosed: %w", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.table[id]
	if !ok {
		return fmt.Errorf("position %q not found", id)
	}
	now := time.Now()
	rec.Status = models.PositionClosed
	rec.ClosedAt = &now

	return s.persistLocked()
}

func (s *Store) Get(id string) (models.PositionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.table[id]
	if !ok {
		return models.PositionRecord{}, false
	}
	return cloneRecord(rec), true
}

func (s *Store) Active() []models.PositionRecord {
	return s.list(func(r *models.PositionRecord) bool { return r.Status == models.PositionActive })
}

func (s *Store) All() []models.PositionRecord {
	return s.list(func(*models.PositionRecord) bool { return true })
}

func (s *Store) list(keep func(*models.PositionRecord) bool) []models.PositionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PositionRecord, 0, len(s.table))
	for _, r := range s.table {
		if keep(r) {
			out = append(out, cloneRecord(r))
		}
	}
	return out
}

func (s *Store) persistLocked() error {
	span := opentracing.StartSpan("positionstore.persist")
	defer span.Finish()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	records := make([]*models.PositionRecord, 0, len(s.table))
	for _, r := range s.table {
		records = append(records, r)
	}

	b, err := sonic.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}

	// предыдущее поколение в .bak, прежде чем затирать основной файл
	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prev, 0o644); err != nil {
			logger.Error("positionstore: write %s.bak: %v", s.path, err)
		}
	}

	return os.Rename(tmp, s.path) // атомарно
}

// clone чтобы никто извне не мутировал shared ptr
func cloneRecord(in *models.PositionRecord) models.PositionRecord {
	b, err := sonic.Marshal(in)
	if err != nil {
		logger.Error("positionstore: clone %s: marshal: %v", in.ID, err)
		return models.PositionRecord{}
	}
	var out models.PositionRecord
	if err := sonic.Unmarshal(b, &out); err != nil {
		logger.Error("positionstore: clone %s: unmarshal: %v", in.ID, err)
	}
	return out
}
