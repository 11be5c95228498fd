package locks

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
)

// Repo — операции над таблицей локов. Атомарность insert-if-absent и
// update-if-owner обязана обеспечивать база (read committed минимум),
// никакой клиентский лок её не заменит.
type Repo interface {
	// TryAcquire: подчистить протухшие записи с этим именем и вставить
	// свою, если живой нет. Одна транзакция.
	TryAcquire(ctx context.Context, rec models.LockRecord) (bool, error)
	Renew(ctx context.Context, name, holder string, expiresAt, heartbeatAt time.Time) (bool, error)
	Release(ctx context.Context, name, holder string) error
	ForceRelease(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*models.LockRecord, error)
	List(ctx context.Context) ([]models.LockRecord, error)
}

// Service — lease-based mutual exclusion: на имя лока в каждый момент
// максимум один живой держатель во всём флоте, упавший держатель
// освобождается по TTL, а не виснет навсегда.
type Service struct {
	repo   Repo
	holder string // host:pid

	mu   sync.Mutex
	held map[string]time.Duration // name -> ttl, для renew
}

func NewService(repo Repo) *Service {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return NewServiceAs(repo, fmt.Sprintf("%s:%d", host, os.Getpid()))
}

// NewServiceAs — с явной идентичностью инстанса (встраивание, тесты).
func NewServiceAs(repo Repo, holder string) *Service {
	return &Service{
		repo:   repo,
		holder: holder,
		held:   make(map[string]time.Duration),
	}
}

func (s *Service) Holder() string { return s.holder }

// IsHeld — локальное представление; источник истины всегда база.
func (s *Service) IsHeld(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[name] > 0
}

// Acquire. false — не ошибка: другой инстанс уже крутит этот сервис,
// вызывающий обязан встать в сторону, а не ретраить в цикле.
func (s *Service) Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error) {
	span := opentracing.StartSpan("locks.acquire")
	defer span.Finish()

	defer func() {
		if err != nil {
			err = fmt.Errorf("Service.Acquire: %w", err)
		}
	}()

	meta, _ := sonic.Marshal(map[string]any{
		"pid":        os.Getpid(),
		"started_at": time.Now().Format(time.RFC3339),
	})

	now := time.Now()
	rec := models.LockRecord{
		Name:        name,
		Holder:      s.holder,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
		HeartbeatAt: now,
		Metadata:    meta,
	}

	ok, err := s.repo.TryAcquire(ctx, rec)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	s.held[name] = ttl
	s.mu.Unlock()

	logger.Info("lock %q acquired by %s (ttl=%s)", name, s.holder, ttl)
	return true, nil
}

// Renew продлевает lease. Провал означает, что строку забрал другой
// инстанс или её удалили — локально даунгрейдимся в "не держим",
// вызывающий обязан остановить защищённую работу.
func (s *Service) Renew(ctx context.Context, name string) (err error) {
	span := opentracing.StartSpan("locks.renew")
	defer span.Finish()

	defer func() {
		if err != nil {
			err = fmt.Errorf("Service.Renew: %w", err)
		}
	}()

	s.mu.Lock()
	ttl, ok := s.held[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("lock %q is not held locally", name)
	}

	now := time.Now()
	renewed, err := s.repo.Renew(ctx, name, s.holder, now.Add(ttl), now)
	if err != nil {
		return err
	}
	if !renewed {
		s.mu.Lock()
		delete(s.held, name)
		s.mu.Unlock()
		logger.Error("lock %q lease lost by %s", name, s.holder)
		return fmt.Errorf("lock %q lease lost", name)
	}

	return nil
}

// Release идемпотентен: чужую или отсутствующую строку не трогаем.
func (s *Service) Release(ctx context.Context, name string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Service.Release: %w", err)
		}
	}()

	s.mu.Lock()
	delete(s.held, name)
	s.mu.Unlock()

	return s.repo.Release(ctx, name, s.holder)
}

// ForceRelease — админская кувалда, сносит строку независимо от владельца.
func (s *Service) ForceRelease(ctx context.Context, name string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Service.ForceRelease: %w", err)
		}
	}()

	s.mu.Lock()
	delete(s.held, name)
	s.mu.Unlock()

	return s.repo.ForceRelease(ctx, name)
}

func (s *Service) GetHolder(ctx context.Context, name string) (*models.LockRecord, error) {
	return s.repo.Get(ctx, name)
}

func (s *Service) ListAll(ctx context.Context) ([]models.LockRecord, error) {
	return s.repo.List(ctx)
}
