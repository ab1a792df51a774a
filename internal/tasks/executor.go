// Package tasks содержит пул рабочих горутин для фоновых задач чанков.
package tasks

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/annel0/chunkstream/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Task: единица фоновой работы.
// Run возвращает true, если задачу нужно поставить в очередь ещё раз.
type Task interface {
	Run(ctx context.Context) (again bool)
}

// TaskFunc позволяет использовать функцию как Task
type TaskFunc func(ctx context.Context) bool

func (f TaskFunc) Run(ctx context.Context) bool { return f(ctx) }

// Options настраивает исполнитель
type Options struct {
	Workers    int                   // Число рабочих горутин (по умолчанию NumCPU)
	QueueSize  int                   // Ёмкость очереди каждого рабочего
	Registerer prometheus.Registerer // Регистр метрик; nil = без метрик
	Logger     *logging.Logger
}

// Stats: счётчики исполнителя
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Inline     uint64 `json:"inline"`
	Requeued   uint64 `json:"requeued"`
	Completed  uint64 `json:"completed"`
	Panics     uint64 `json:"panics"`
	Abandoned  uint64 `json:"abandoned"`
	QueueDepth int64  `json:"queue_depth"`
	Workers    int    `json:"workers"`
}

// Executor распределяет задачи по очередям рабочих по кругу.
// Submit никогда не блокируется: при заполненных очередях задача
// выполняется в горутине вызывающего.
type Executor struct {
	queues []chan Task
	next   atomic.Uint64

	mu       sync.RWMutex // Защищает disposed от отправки в закрывающиеся очереди
	disposed bool
	stop     chan struct{}
	wg       sync.WaitGroup

	submitted atomic.Uint64
	inline    atomic.Uint64
	requeued  atomic.Uint64
	completed atomic.Uint64
	panics    atomic.Uint64
	abandoned atomic.Uint64
	depth     atomic.Int64

	logger *logging.Logger
}

// NewExecutor запускает рабочие горутины
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetTasksLogger()
	}

	e := &Executor{
		queues: make([]chan Task, opts.Workers),
		stop:   make(chan struct{}),
		logger: opts.Logger,
	}
	for i := range e.queues {
		e.queues[i] = make(chan Task, opts.QueueSize)
	}

	if opts.Registerer != nil {
		if err := registerMetrics(opts.Registerer, e); err != nil {
			return nil, fmt.Errorf("ошибка регистрации метрик исполнителя: %w", err)
		}
	}

	for i := range e.queues {
		e.wg.Add(1)
		go e.worker(i)
	}

	e.logger.Debug("Исполнитель запущен: %d рабочих, очередь %d", opts.Workers, opts.QueueSize)
	return e, nil
}

// Submit ставит задачу в очередь следующего рабочего.
// Если все очереди заполнены или исполнитель остановлен, задача
// выполняется синхронно в вызывающей горутине.
func (e *Executor) Submit(task Task) {
	if task == nil {
		return
	}
	e.submitted.Add(1)

	for {
		if e.enqueue(task) {
			return
		}
		e.inline.Add(1)
		if !e.runTask(task) {
			return
		}
		e.requeued.Add(1)
	}
}

// SubmitFunc: сокращение для Submit(TaskFunc(f))
func (e *Executor) SubmitFunc(f func(ctx context.Context) bool) {
	e.Submit(TaskFunc(f))
}

// enqueue пытается отправить задачу без блокировки, обходя очереди по кругу
func (e *Executor) enqueue(task Task) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.disposed {
		return false
	}

	n := uint64(len(e.queues))
	start := e.next.Add(1)
	for i := uint64(0); i < n; i++ {
		select {
		case e.queues[(start+i)%n] <- task:
			e.depth.Add(1)
			return true
		default:
		}
	}
	return false
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	queue := e.queues[id]

	for {
		// Остановка важнее оставшихся задач
		select {
		case <-e.stop:
			return
		default:
		}

		select {
		case <-e.stop:
			return
		case task := <-queue:
			e.depth.Add(-1)
			e.process(queue, task)
		}
	}
}

// process выполняет задачу и при необходимости возвращает её в очередь рабочего.
// Если очередь заполнена, задача повторяется сразу.
func (e *Executor) process(queue chan Task, task Task) {
	for e.runTask(task) {
		e.requeued.Add(1)

		select {
		case <-e.stop:
			e.abandoned.Add(1)
			return
		default:
		}

		select {
		case queue <- task:
			e.depth.Add(1)
			return
		default:
		}
	}
}

// runTask выполняет задачу с перехватом паники
func (e *Executor) runTask(task Task) (again bool) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.logger.Error("Паника в задаче: %v\n%s", r, debug.Stack())
			again = false
		}
	}()

	again = task.Run(context.Background())
	if !again {
		e.completed.Add(1)
	}
	return again
}

// Dispose останавливает рабочих и ждёт их завершения.
// Задачи, не начавшие выполнение, отбрасываются. Повторный вызов ничего не делает.
func (e *Executor) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()

	var dropped uint64
	for _, q := range e.queues {
	drain:
		for {
			select {
			case <-q:
				e.depth.Add(-1)
				dropped++
			default:
				break drain
			}
		}
	}
	e.abandoned.Add(dropped)

	if total := e.abandoned.Load(); total > 0 {
		e.logger.Warn("Исполнитель остановлен, отброшено задач: %d", total)
	} else {
		e.logger.Debug("Исполнитель остановлен")
	}
}

// Disposed сообщает, что исполнитель остановлен
func (e *Executor) Disposed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.disposed
}

// Workers возвращает число рабочих горутин
func (e *Executor) Workers() int { return len(e.queues) }

// Stats возвращает снимок счётчиков
func (e *Executor) Stats() Stats {
	return Stats{
		Submitted:  e.submitted.Load(),
		Inline:     e.inline.Load(),
		Requeued:   e.requeued.Load(),
		Completed:  e.completed.Load(),
		Panics:     e.panics.Load(),
		Abandoned:  e.abandoned.Load(),
		QueueDepth: e.depth.Load(),
		Workers:    len(e.queues),
	}
}
