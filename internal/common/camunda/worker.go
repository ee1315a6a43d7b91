// internal/common/camunda/worker.go
package camunda

import (
	"fmt"
	"sync"

	"nomination-workers/internal/common/config"
	"nomination-workers/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is implemented by every task worker.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// WorkerPool opens one Zeebe job worker per task type and closes them together.
type WorkerPool struct {
	client zbc.Client
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkerPool(client zbc.Client, log logger.Logger) *WorkerPool {
	return &WorkerPool{
		client:  client,
		logger:  log,
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens a job worker for taskType unless it is disabled in wcfg.
func (p *WorkerPool) Start(taskType string, wcfg config.WorkerConfig, handler JobHandler) error {
	if !wcfg.Enabled {
		p.logger.Info("Worker is disabled, skipping registration", map[string]interface{}{"taskType": taskType})
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[taskType]; exists {
		return fmt.Errorf("worker for %s already started", taskType)
	}

	p.workers[taskType] = p.client.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Name(fmt.Sprintf("%s-worker", taskType)).
		Open()

	p.logger.Info("Worker registered with Camunda", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeoutMs":     wcfg.Timeout,
	})
	return nil
}

// TaskTypes lists the running workers.
func (p *WorkerPool) TaskTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.workers))
	for taskType := range p.workers {
		out = append(out, taskType)
	}
	return out
}

// Close stops every job worker and waits for active jobs to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for taskType, w := range p.workers {
		p.logger.Info("Shutting down worker gracefully", map[string]interface{}{"taskType": taskType})
		w.Close()
		w.AwaitClose()
	}
	p.workers = make(map[string]worker.JobWorker)
}
