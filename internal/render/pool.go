package render

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Generate once Stop has been called
var ErrPoolStopped = errors.New("render pool is shutting down")

// FrameGenerator draws one frame for a device
type FrameGenerator interface {
	Generate(deviceID string) (*Image, error)
}

// renderJob is a frame request waiting for a worker
type renderJob struct {
	deviceID string
	result   chan renderResult
}

type renderResult struct {
	image *Image
	err   error
}

// Pool bounds concurrent frame rendering to a fixed number of workers
type Pool struct {
	generator FrameGenerator
	workers   int
	jobQueue  chan *renderJob
	stopped   chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewPool creates a pool of workers drawing with generator
func NewPool(generator FrameGenerator, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}

	return &Pool{
		generator: generator,
		workers:   workers,
		jobQueue:  make(chan *renderJob, workers*2),
		stopped:   make(chan struct{}),
		logger:    logger,
	}
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	p.logger.Info("Starting render pool",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.jobQueue)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop rejects new frames and waits for in-flight ones to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping render pool")
		close(p.stopped)
		p.wg.Wait()
		p.logger.Info("Render pool stopped")
	})
}

// Generate queues a frame for deviceID and waits for a worker to draw it
func (p *Pool) Generate(deviceID string) (*Image, error) {
	job := &renderJob{deviceID: deviceID, result: make(chan renderResult, 1)}

	select {
	case p.jobQueue <- job:
	case <-p.stopped:
		return nil, ErrPoolStopped
	}

	select {
	case res := <-job.result:
		return res.image, res.err
	case <-p.stopped:
		return nil, ErrPoolStopped
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			p.process(id, job)
		case <-p.stopped:
			return
		}
	}
}

func (p *Pool) process(workerID int, job *renderJob) {
	img, err := p.render(job.deviceID)
	job.result <- renderResult{image: img, err: err}

	if err != nil {
		p.logger.Debug("Render failed",
			zap.Int("worker_id", workerID),
			zap.String("device_id", job.deviceID),
			zap.Error(err))
	}
}

// render runs the generator on the worker goroutine, where a panic would otherwise take
// down the process. It comes back to the caller as an ordinary error.
func (p *Pool) render(deviceID string) (img *Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	return p.generator.Generate(deviceID)
}
