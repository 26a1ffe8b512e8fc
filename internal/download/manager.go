package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/axxuxy/ax-image/internal/models"
)

const DefaultConcurrencyLimit = 5

var (
	ErrUnknownJob   = errors.New("job is not managed by this manager")
	ErrJobActive    = errors.New("job is downloading")
	ErrInvalidLimit = errors.New("concurrency limit must be at least 1")
)

// Transferer streams one url to a file. Cancelling ctx must end the transfer
// without an error.
type Transferer interface {
	Download(ctx context.Context, url string, dest string, onProgress func(int64)) error
}

type Listener func(*Job, Event)

type listenerEntry struct {
	id int
	fn Listener
}

type notice struct {
	job   *Job
	event Event
}

// Manager runs queued jobs under a concurrency limit. Lock order is
// Manager.mu before Job.mu; listeners run with neither held.
type Manager struct {
	transferer Transferer
	logger     zerolog.Logger
	now        func() time.Time

	mu         sync.Mutex
	jobs       []*Job
	limit      int
	running    int
	pending    []notice
	delivering bool
	idle       chan struct{}
	idleClosed bool

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener int
}

type Option func(*Manager)

func WithConcurrencyLimit(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.limit = n
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(transferer Transferer, options ...Option) *Manager {
	m := &Manager{
		transferer: transferer,
		logger:     log.Logger,
		now:        time.Now,
		limit:      DefaultConcurrencyLimit,
		idle:       make(chan struct{}),
	}
	close(m.idle)
	m.idleClosed = true
	for _, option := range options {
		option(m)
	}
	return m
}

// Enqueue adds a job and starts it if a slot is free. Duplicates are not
// checked; see EnqueueUnique.
func (m *Manager) Enqueue(req Request) (*Job, error) {
	job, _, err := m.enqueue(req, false)
	return job, err
}

// EnqueueUnique is Enqueue that refuses a request whose website, post and
// type match a job already in the active set. added is false in that case
// and the existing job is returned.
func (m *Manager) EnqueueUnique(req Request) (job *Job, added bool, err error) {
	return m.enqueue(req, true)
}

func (m *Manager) enqueue(req Request, unique bool) (*Job, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if unique {
		if existing := m.findQueuedLocked(req.Website, req.Post.ID, req.Type); existing != nil {
			m.mu.Unlock()
			return existing, false, nil
		}
	}
	job := &Job{
		id:      uuid.NewString(),
		request: req,
		info:    req.Info(),
		manager: m,
	}
	m.jobs = append(m.jobs, job)
	m.admitLocked()
	m.mu.Unlock()
	m.flush()
	return job, true, nil
}

func (m *Manager) IsQueued(website models.Website, postID int64, downloadType models.DownloadType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findQueuedLocked(website, postID, downloadType) != nil
}

func (m *Manager) findQueuedLocked(website models.Website, postID int64, downloadType models.DownloadType) *Job {
	for _, job := range m.jobs {
		if job.matches(website, postID, downloadType) {
			return job
		}
	}
	return nil
}

// Jobs returns the active set in queue order.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Job(nil), m.jobs...)
}

func (m *Manager) Find(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.id == id {
			return job, true
		}
	}
	return nil, false
}

// Stop halts a job without removing it. A downloading job reports stop when its
// transfer returns; any other job reports it immediately.
func (m *Manager) Stop(job *Job) error {
	m.mu.Lock()
	if m.indexLocked(job) < 0 {
		m.mu.Unlock()
		return ErrUnknownJob
	}
	job.mu.Lock()
	if job.state.Stopped {
		job.mu.Unlock()
		m.mu.Unlock()
		return nil
	}
	job.state = job.state.stop()
	if job.state.Downloading {
		job.cancel()
	} else {
		m.pushLocked(job, EventStop)
	}
	job.mu.Unlock()
	m.mu.Unlock()
	m.flush()
	return nil
}

// Resume clears a stop or a recorded error so admission can run the job again.
func (m *Manager) Resume(job *Job) error {
	m.mu.Lock()
	if m.indexLocked(job) < 0 {
		m.mu.Unlock()
		return ErrUnknownJob
	}
	job.mu.Lock()
	if job.state.Downloading {
		job.mu.Unlock()
		m.mu.Unlock()
		return ErrJobActive
	}
	job.state = job.state.resume()
	job.mu.Unlock()
	m.admitLocked()
	m.mu.Unlock()
	m.flush()
	return nil
}

// Cancel stops the job, removes it and reports cancel after the freed slot is
// offered to the next queued job.
func (m *Manager) Cancel(job *Job) error {
	m.mu.Lock()
	index := m.indexLocked(job)
	if index < 0 {
		m.mu.Unlock()
		return ErrUnknownJob
	}
	m.jobs = append(m.jobs[:index], m.jobs[index+1:]...)

	job.mu.Lock()
	job.state = job.state.stop()
	if job.cancel != nil {
		job.cancel()
	}
	job.state.Downloading = false
	job.mu.Unlock()

	m.admitLocked()
	m.pushLocked(job, EventCancel)
	m.mu.Unlock()
	m.flush()
	return nil
}

// SetConcurrencyLimit changes the cap. Raising it admits queued jobs at once;
// lowering it lets running transfers finish.
func (m *Manager) SetConcurrencyLimit(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	m.mu.Lock()
	previous := m.limit
	m.limit = n
	if n > previous {
		m.admitLocked()
	}
	m.mu.Unlock()
	m.flush()
	return nil
}

func (m *Manager) ConcurrencyLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// AddListener registers fn for every job event and returns its remover.
func (m *Manager) AddListener(fn Listener) (remove func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, entry := range m.listeners {
			if entry.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Wait blocks until no transfer is running and every event has been delivered.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		idle := m.idle
		m.mu.Unlock()
		select {
		case <-idle:
			m.mu.Lock()
			done := m.running == 0 && !m.delivering && len(m.pending) == 0
			m.mu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) indexLocked(job *Job) int {
	for i, candidate := range m.jobs {
		if candidate == job {
			return i
		}
	}
	return -1
}

func (m *Manager) downloadingLocked() int {
	count := 0
	for _, job := range m.jobs {
		if job.State().Downloading {
			count++
		}
	}
	return count
}

// admitLocked starts queued jobs in order while slots are free.
func (m *Manager) admitLocked() {
	downloading := m.downloadingLocked()
	for _, job := range m.jobs {
		if downloading >= m.limit {
			return
		}
		job.mu.Lock()
		if !job.state.Queued() {
			job.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		job.state = job.state.begin(m.now())
		job.cancel = cancel
		job.mu.Unlock()

		downloading++
		m.running++
		m.pushLocked(job, EventStart)
		m.logger.Debug().Str("job", job.id).Str("url", job.info.URL).Msg("download admitted")
		go m.run(ctx, job)
	}
}

func (m *Manager) run(ctx context.Context, job *Job) {
	err := m.transferer.Download(ctx, job.info.URL, job.request.SavePath, func(n int64) {
		job.update(func(s State) State { return s.progress(n) })
	})
	m.settle(job, err)
	m.flush()

	m.mu.Lock()
	m.running--
	m.checkIdleLocked()
	m.mu.Unlock()
}

func (m *Manager) settle(job *Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.indexLocked(job)
	job.mu.Lock()
	if job.cancel != nil {
		job.cancel()
		job.cancel = nil
	}
	var event Event
	switch {
	case index < 0:
		job.state.Downloading = false
	case job.state.Stopped:
		job.state = job.state.halt()
		event = EventStop
	case err != nil:
		job.state = job.state.fail(err)
		event = EventFailed
	default:
		job.state = job.state.succeed(m.now())
		event = EventSucceed
	}
	job.mu.Unlock()

	switch event {
	case "":
		return
	case EventSucceed:
		m.jobs = append(m.jobs[:index], m.jobs[index+1:]...)
	case EventFailed:
		m.logger.Warn().Err(err).Str("job", job.id).Str("url", job.info.URL).Msg("download failed")
	}
	m.pushLocked(job, event)
	m.admitLocked()
}

// flush delivers pending events in order. A listener that calls back into the
// manager has its events delivered by the outer flush once it returns.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, n := range batch {
			m.notify(n.job, n.event)
		}
		m.mu.Lock()
	}
	m.delivering = false
	m.checkIdleLocked()
	m.mu.Unlock()
}

func (m *Manager) notify(job *Job, event Event) {
	m.listenersMu.RLock()
	listeners := append([]listenerEntry(nil), m.listeners...)
	m.listenersMu.RUnlock()
	for _, entry := range listeners {
		entry.fn(job, event)
	}
}

func (m *Manager) pushLocked(job *Job, event Event) {
	m.pending = append(m.pending, notice{job: job, event: event})
	if m.idleClosed {
		m.idle = make(chan struct{})
		m.idleClosed = false
	}
}

func (m *Manager) checkIdleLocked() {
	if m.running == 0 && !m.delivering && len(m.pending) == 0 && !m.idleClosed {
		close(m.idle)
		m.idleClosed = true
	}
}
