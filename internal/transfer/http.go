package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// HTTPManager downloads over plain HTTP with a bounded worker pool. State is
// in-memory only; callers persist whatever they need to survive restarts.
type HTTPManager struct {
	client *http.Client
	logger zerolog.Logger
	sem    chan struct{}

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	cancel  context.CancelFunc
	status  Status
	errMsg  string
	written int64
	total   int64
}

func NewHTTPManager(workers int, logger zerolog.Logger) *HTTPManager {
	if workers < 1 {
		workers = 1
	}
	return &HTTPManager{
		client: &http.Client{},
		logger: logger.With().Str("component", "transfer").Logger(),
		sem:    make(chan struct{}, workers),
		jobs:   make(map[string]*job),
	}
}

func (m *HTTPManager) Enqueue(jobID, url, destPath string) error {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, exists := m.jobs[jobID]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("transfer: job %s already enqueued", jobID)
	}
	m.jobs[jobID] = &job{cancel: cancel, status: StatusPending}
	m.mu.Unlock()

	go m.run(ctx, jobID, url, destPath)
	return nil
}

func (m *HTTPManager) Status(jobID string) (Status, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return "", "", ErrUnknownJob
	}
	return j.status, j.errMsg, nil
}

func (m *HTTPManager) Progress(jobID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return 0, ErrUnknownJob
	}
	if j.status == StatusSuccessful {
		return 1, nil
	}
	if j.total <= 0 {
		return 0, nil
	}
	return float64(j.written) / float64(j.total), nil
}

func (m *HTTPManager) Cancel(jobID string) error {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	j.cancel()
	return nil
}

func (m *HTTPManager) Forget(jobID string) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
}

func (m *HTTPManager) run(ctx context.Context, jobID, url, destPath string) {
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		m.finish(jobID, StatusFailed, "cancelled before start")
		return
	}

	m.setStatus(jobID, StatusRunning)
	m.logger.Info().Str("job_id", jobID).Str("dest", destPath).Msg("transfer started")

	if err := m.download(ctx, jobID, url, destPath); err != nil {
		if ctx.Err() != nil {
			m.finish(jobID, StatusFailed, "cancelled")
		} else {
			m.finish(jobID, StatusFailed, err.Error())
		}
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("transfer failed")
		return
	}

	m.finish(jobID, StatusSuccessful, "")
	m.logger.Info().Str("job_id", jobID).Msg("transfer finished")
}

func (m *HTTPManager) download(ctx context.Context, jobID, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d fetching %s", resp.StatusCode, url)
	}

	m.mu.Lock()
	if j, ok := m.jobs[jobID]; ok {
		j.total = resp.ContentLength
	}
	m.mu.Unlock()

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 256*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			m.mu.Lock()
			if j, ok := m.jobs[jobID]; ok {
				j.written += int64(n)
			}
			m.mu.Unlock()
		}
		if err == io.EOF {
			return f.Sync()
		}
		if err != nil {
			return err
		}
	}
}

func (m *HTTPManager) setStatus(jobID string, status Status) {
	m.mu.Lock()
	if j, ok := m.jobs[jobID]; ok {
		j.status = status
	}
	m.mu.Unlock()
}

func (m *HTTPManager) finish(jobID string, status Status, errMsg string) {
	m.mu.Lock()
	if j, ok := m.jobs[jobID]; ok {
		j.status = status
		j.errMsg = errMsg
	}
	m.mu.Unlock()
}
