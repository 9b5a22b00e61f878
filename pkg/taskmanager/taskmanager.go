package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ITaskManager определяет интерфейс для управления отсоединенными задачами.
// Задача живет в собственном контексте и переживает HTTP-запрос, который ее породил.
type ITaskManager interface {
	SubmitTask(ctx context.Context, taskFunc TaskFunc, params interface{}) (uuid.UUID, error)
	GetTask(taskID uuid.UUID) (*Task, error)
	CancelTask(taskID uuid.UUID) error
	RegisterCallback(taskID uuid.UUID, callback TaskCallback) error
	UnregisterCallbacks(taskID uuid.UUID)
	CleanupTasks(age time.Duration)
	Shutdown(ctx context.Context) error
}

// Task представляет асинхронную задачу
type Task struct {
	ID        uuid.UUID
	Status    TaskStatus
	Message   string
	Result    interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
	Cancel    context.CancelFunc
}

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskFunc представляет функцию, выполняемую в задаче
type TaskFunc func(ctx context.Context, params interface{}) (interface{}, error)

// TaskCallback вызывается при каждом изменении статуса задачи
type TaskCallback func(task *Task)

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// TaskManager управляет асинхронными задачами
type TaskManager struct {
	tasks     map[uuid.UUID]*Task
	mu        sync.RWMutex
	maxTasks  int
	callbacks map[uuid.UUID][]TaskCallback
	closing   chan struct{}
	wg        sync.WaitGroup
}

// New создает новый экземпляр TaskManager
func New(cfg Config) (*TaskManager, error) {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}

	return &TaskManager{
		tasks:     make(map[uuid.UUID]*Task),
		maxTasks:  maxTasks,
		callbacks: make(map[uuid.UUID][]TaskCallback),
		closing:   make(chan struct{}),
	}, nil
}

// SubmitTask создает и запускает новую задачу.
// Контекст задачи независим от ctx вызывающего: отмена HTTP-запроса не
// убивает задачу. Из ctx наследуется только zerolog-логгер.
func (tm *TaskManager) SubmitTask(ctx context.Context, taskFunc TaskFunc, params interface{}) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	select {
	case <-tm.closing:
		return uuid.UUID{}, errors.New("менеджер задач останавливается")
	default:
	}

	activeTasks := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusPending || task.Status == TaskStatusRunning {
			activeTasks++
		}
	}
	if activeTasks >= tm.maxTasks {
		return uuid.UUID{}, errors.New("превышено максимальное количество активных задач")
	}

	taskID := uuid.New()

	baseTaskCtx, cancel := context.WithCancel(context.Background())
	taskLogger := log.Ctx(ctx)
	taskCtx := taskLogger.WithContext(baseTaskCtx)

	task := &Task{
		ID:        taskID,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Cancel:    cancel,
	}
	tm.tasks[taskID] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()

		tm.runTask(taskCtx, task, taskFunc, params)
	}()

	return taskID, nil
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(ctx context.Context, task *Task, taskFunc TaskFunc, params interface{}) {
	tm.updateTaskStatus(ctx, task, TaskStatusRunning, "Задача запущена")

	result, err := taskFunc(ctx, params)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Ctx(ctx).Info().Str("taskID", task.ID.String()).Msg("Контекст задачи был отменен")
			tm.updateTaskStatus(ctx, task, TaskStatusCancelled, "Задача отменена")
		} else {
			log.Ctx(ctx).Error().Err(ctx.Err()).Str("taskID", task.ID.String()).Msg("Ошибка контекста задачи")
			tm.updateTaskStatus(ctx, task, TaskStatusFailed, fmt.Sprintf("Ошибка контекста: %v", ctx.Err()))
		}
		return
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("taskID", task.ID.String()).Msg("Задача завершилась с ошибкой")
		tm.updateTaskStatus(ctx, task, TaskStatusFailed, fmt.Sprintf("Ошибка: %v", err))
	} else {
		task.Result = result
		tm.updateTaskStatus(ctx, task, TaskStatusCompleted, "Задача успешно выполнена")
	}
}

// updateTaskStatus обновляет статус задачи и дергает коллбэки
func (tm *TaskManager) updateTaskStatus(ctx context.Context, task *Task, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()

	if callbacks, ok := tm.callbacks[task.ID]; ok {
		for _, callback := range callbacks {
			go callback(task)
		}
	}

	log.Ctx(ctx).Info().
		Str("taskID", task.ID.String()).
		Str("newStatus", string(task.Status)).
		Str("message", task.Message).
		Msg("Статус задачи обновлен")
}

// GetTask возвращает информацию о задаче по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (*Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("задача с ID %s не найдена", taskID)
	}
	return task, nil
}

// CancelTask отменяет выполнение задачи
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("задача с ID %s не найдена", taskID)
	}

	if task.Status != TaskStatusPending && task.Status != TaskStatusRunning {
		return fmt.Errorf("невозможно отменить задачу в статусе %s", task.Status)
	}

	if task.Cancel != nil {
		task.Cancel()
	}

	task.Status = TaskStatusCancelled
	task.Message = "Задача отменена"
	task.UpdatedAt = time.Now()
	return nil
}

// RegisterCallback регистрирует функцию обратного вызова для задачи
func (tm *TaskManager) RegisterCallback(taskID uuid.UUID, callback TaskCallback) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, ok := tm.tasks[taskID]; !ok {
		return fmt.Errorf("задача с ID %s не найдена", taskID)
	}
	tm.callbacks[taskID] = append(tm.callbacks[taskID], callback)
	return nil
}

// UnregisterCallbacks удаляет все коллбэки для задачи
func (tm *TaskManager) UnregisterCallbacks(taskID uuid.UUID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	delete(tm.callbacks, taskID)
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for id, task := range tm.tasks {
		if (task.Status == TaskStatusCompleted || task.Status == TaskStatusFailed || task.Status == TaskStatusCancelled) &&
			now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			delete(tm.callbacks, id)
		}
	}
}

// Shutdown отменяет прием новых задач и ожидает завершения запущенных с таймаутом
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	close(tm.closing)

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}
