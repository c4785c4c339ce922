package workers

import (
	"context"
	"sync"
	"time"

	"eldervoice/internal/logger"

	"github.com/sirupsen/logrus"
)

// Worker is a periodic background job.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// WorkerManager runs registered workers on their own tickers.
type WorkerManager struct {
	workers  []Worker
	log      *logger.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func NewWorkerManager(log *logger.Logger) *WorkerManager {
	return &WorkerManager{
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (wm *WorkerManager) RegisterWorker(w Worker) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.workers = append(wm.workers, w)
	wm.log.Info("Worker registered", logrus.Fields{
		"worker":   w.Name(),
		"interval": w.Interval().String(),
	})
}

func (wm *WorkerManager) Start() {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	for _, worker := range wm.workers {
		wm.wg.Add(1)
		go wm.runWorker(worker)
	}
}

func (wm *WorkerManager) runWorker(w Worker) {
	defer wm.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	// First run happens immediately.
	wm.executeWorker(w)

	for {
		select {
		case <-ticker.C:
			wm.executeWorker(w)
		case <-wm.stopChan:
			return
		}
	}
}

func (wm *WorkerManager) executeWorker(w Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	if err := w.Run(ctx); err != nil {
		wm.log.Error("Worker run failed", logrus.Fields{
			"worker": w.Name(),
			"error":  err.Error(),
		})
		return
	}

	wm.log.Debug("Worker run finished", logrus.Fields{
		"worker":   w.Name(),
		"duration": time.Since(start).String(),
	})
}

func (wm *WorkerManager) Stop() {
	close(wm.stopChan)
	wm.wg.Wait()
}
