package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/gofrs/flock"
)

// Runner запускает один проход синхронизации
type Runner interface {
	RunOnce(ctx context.Context) (*models.SyncRun, error)
}

// slot - время запуска внутри суток
type slot struct {
	hour   int
	minute int
}

// Status - текущее состояние планировщика для операторского API
type Status struct {
	Running       bool       `json:"running"`
	PID           int        `json:"pid"`
	LastRunID     string     `json:"last_run_id,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
}

// Scheduler запускает синхронизацию по расписанию.
// Одновременно работает не больше одного прохода, а второй экземпляр
// процесса не стартует: живость проверяется файловой блокировкой
// на PID-файле, которая умирает вместе с процессом.
type Scheduler struct {
	runner   Runner
	slots    []slot
	pidFile  string
	fileLock *flock.Flock
	logger   interfaces.LoggerPort
	trigger  chan struct{}

	mu      sync.Mutex
	running bool
	lastRun *models.SyncRun
	nextRun time.Time
}

// New создает планировщик с временами запуска в формате "HH:MM"
func New(runner Runner, scheduleTimes []string, pidFile string, logger interfaces.LoggerPort) (*Scheduler, error) {
	slots, err := parseSlots(scheduleTimes)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		runner:   runner,
		slots:    slots,
		pidFile:  pidFile,
		fileLock: flock.New(pidFile),
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// parseSlots разбирает и сортирует времена запуска
func parseSlots(times []string) ([]slot, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("расписание пустое")
	}

	slots := make([]slot, 0, len(times))
	for _, raw := range times {
		var h, m int
		if _, err := fmt.Sscanf(raw, "%d:%d", &h, &m); err != nil {
			return nil, fmt.Errorf("некорректное время запуска %q: %w", raw, err)
		}
		if h < 0 || h > 23 || m < 0 || m > 59 {
			return nil, fmt.Errorf("некорректное время запуска %q", raw)
		}
		slots = append(slots, slot{hour: h, minute: m})
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].hour != slots[j].hour {
			return slots[i].hour < slots[j].hour
		}
		return slots[i].minute < slots[j].minute
	})
	return slots, nil
}

// nextSlot возвращает ближайшее время запуска после now
func nextSlot(now time.Time, slots []slot) time.Time {
	for _, s := range slots {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
		if candidate.After(now) {
			return candidate
		}
	}
	// Все слоты сегодня прошли - первый слот завтра
	first := slots[0]
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first.hour, first.minute, 0, 0, now.Location())
}

// Start блокирует вызывающего и крутит цикл планировщика до отмены контекста
func (s *Scheduler) Start(ctx context.Context) error {
	locked, err := s.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("ошибка блокировки PID-файла: %w", err)
	}
	if !locked {
		// Блокировку держит живой процесс - второй экземпляр не стартует
		return utils.ErrAlreadyRunning
	}
	defer s.fileLock.Unlock()

	if err := os.WriteFile(s.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("ошибка записи PID-файла: %w", err)
	}

	s.logger.Info("Планировщик запущен",
		interfaces.LogField{Key: "pid", Value: os.Getpid()},
		interfaces.LogField{Key: "slots", Value: len(s.slots)},
	)

	for {
		next := nextSlot(time.Now(), s.slots)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		s.logger.Info("Ожидание следующего запуска",
			interfaces.LogField{Key: "next_run_at", Value: next.Format(time.RFC3339)},
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Планировщик остановлен")
			return nil
		case <-timer.C:
			s.runOnce(ctx)
		case <-s.trigger:
			timer.Stop()
			s.logger.Info("Запуск по ручному триггеру")
			s.runOnce(ctx)
		}
	}
}

// runOnce выполняет один проход и запоминает его итог
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	run, err := s.runner.RunOnce(ctx)

	s.mu.Lock()
	s.running = false
	if run != nil {
		s.lastRun = run
	}
	s.mu.Unlock()

	if err != nil {
		// Фатальная ошибка фиксируется, ждем следующего слота вместо
		// немедленных повторов
		s.logger.Error("Запуск завершился с ошибкой, ожидание следующего слота",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// TriggerNow запускает синхронизацию вне расписания.
// Пока идет проход, повторный триггер отклоняется.
func (s *Scheduler) TriggerNow() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if running {
		return utils.ErrAlreadyRunning
	}

	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return utils.ErrAlreadyRunning
	}
}

// Status возвращает состояние планировщика
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running: s.running,
		PID:     os.Getpid(),
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRunAt = &next
	}
	if s.lastRun != nil {
		st.LastRunID = s.lastRun.ID
		st.LastRunAt = &s.lastRun.StartedAt
		st.LastRunStatus = string(s.lastRun.Status)
	}
	return st
}
