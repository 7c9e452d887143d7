// Package scheduler runs recurring backups on cron schedules.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/robfig/cron/v3"
)

type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusRunning TaskStatus = "running"
	StatusSuccess TaskStatus = "success"
	StatusFailed  TaskStatus = "failed"
)

const schedulesFile = "schedules.json"

// Task is one recurring backup.
type Task struct {
	ID         string     `json:"id"`
	Schedule   string     `json:"schedule"` // cron spec or interval (e.g. "@daily" or "24h")
	OutputDir  string     `json:"output_dir"`
	Locations  []string   `json:"locations,omitempty"` // extra locations on top of the configured ones
	Sealed     bool       `json:"sealed"`              // password comes from DOTVAULT_PASSWORD
	Keep       int        `json:"keep,omitempty"`
	Retention  string     `json:"retention,omitempty"`
	Retries    int        `json:"retries"`
	RetryDelay string     `json:"retry_delay"`
	Status     TaskStatus `json:"status"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`

	cronID cron.EntryID
}

// RunFunc performs one run of a task.
type RunFunc func(ctx context.Context, t Task) error

type Options struct {
	DataDir string // where schedules.json lives
	Run     RunFunc
	Logger  *logger.Logger
}

type Scheduler struct {
	cron    *cron.Cron
	tasks   map[string]*Task
	mu      sync.RWMutex
	dataDir string
	run     RunFunc
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(opts Options) (*Scheduler, error) {
	dir := opts.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".dotvault")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	l := opts.Logger
	if l == nil {
		l = logger.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l}))),
		tasks:   make(map[string]*Task),
		dataDir: dir,
		run:     opts.Run,
		logger:  l,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and cancels running tasks. The returned context is
// done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

// NormalizeSpec turns a bare interval such as "24h" into "@every 24h".
func NormalizeSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "@") && strings.Count(spec, " ") < 4 {
		if _, err := time.ParseDuration(spec); err == nil {
			return "@every " + spec
		}
	}
	return spec
}

func (s *Scheduler) Load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, schedulesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var tasks map[string]*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("failed to parse %s: %w", schedulesFile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range tasks {
		t.ID = id
		if t.Status == StatusRunning {
			t.Status = StatusPending // interrupted by a previous shutdown
		}
		if err := s.scheduleLocked(t); err != nil {
			s.logger.Warn("Failed to schedule task", "id", id, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked saves tasks without acquiring a lock (caller must hold mu)
func (s *Scheduler) saveLocked() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, schedulesFile), data, 0o600)
}

func (s *Scheduler) AddTask(task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.OutputDir == "" {
		return fmt.Errorf("task %s has no output directory", task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.scheduleLocked(task); err != nil {
		return err
	}
	task.Status = StatusPending
	return s.saveLocked()
}

func (s *Scheduler) scheduleLocked(task *Task) error {
	if old, ok := s.tasks[task.ID]; ok {
		s.cron.Remove(old.cronID)
	}

	id := task.ID
	cronID, err := s.cron.AddFunc(NormalizeSpec(task.Schedule), func() {
		s.executeTask(id)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", task.Schedule, err)
	}
	task.cronID = cronID
	s.tasks[task.ID] = task
	return nil
}

func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}

	s.cron.Remove(task.cronID)
	delete(s.tasks, id)
	return s.saveLocked()
}

// ListTasks returns copies of all tasks ordered by ID.
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		if entry := s.cron.Entry(t.cronID); !entry.Next.IsZero() {
			next := entry.Next
			c.NextRun = &next
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// RunNow executes a task immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	_, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	return s.executeTask(id)
}

func (s *Scheduler) executeTask(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if task.Status == StatusRunning {
		s.mu.Unlock()
		s.logger.Warn("Skipping task: already running", "id", id)
		return nil
	}
	task.Status = StatusRunning
	now := time.Now()
	task.LastRun = &now
	snapshot := *task
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("Failed to persist schedules", "id", id, "error", err)
	}
	s.mu.Unlock()

	if s.run == nil {
		return s.finish(task, errors.New("scheduler has no run function"))
	}

	retryDelay, _ := time.ParseDuration(snapshot.RetryDelay)
	if retryDelay == 0 {
		retryDelay = 5 * time.Minute
	}

	l := s.logger.With("task", id)
	var err error
	for i := 0; i <= snapshot.Retries; i++ {
		if i > 0 {
			l.Info("Retrying task", "attempt", i, "delay", retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-s.ctx.Done():
				return s.finish(task, s.ctx.Err())
			}
		}
		if err = s.run(s.ctx, snapshot); err == nil {
			break
		}
		l.Warn("Scheduled run failed", "attempt", i, "error", err)
	}
	return s.finish(task, err)
}

func (s *Scheduler) finish(task *Task, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		task.Status = StatusFailed
		task.LastError = err.Error()
		s.logger.Error("Scheduled task failed after retries", "id", task.ID, "error", err)
	} else {
		task.Status = StatusSuccess
		task.LastError = ""
		s.logger.Info("Scheduled task succeeded", "id", task.ID)
	}
	if saveErr := s.saveLocked(); saveErr != nil {
		s.logger.Warn("Failed to persist schedules", "error", saveErr)
	}
	return err
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
