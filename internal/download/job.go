package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/axxuxy/ax-image/internal/models"
)

var ErrNotDownloaded = errors.New("job has not finished downloading")

type Event string

const (
	EventStart   Event = "start"
	EventSucceed Event = "succeed"
	EventFailed  Event = "failed"
	EventStop    Event = "stop"
	EventCancel  Event = "cancel"
)

// Info describes the variant a job fetches.
type Info struct {
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

// Request is the immutable description of one download.
type Request struct {
	Post     models.Post
	Website  models.Website
	Type     models.DownloadType
	SavePath string
}

func (r Request) Info() Info {
	link, size, width, height := r.Post.Variant(r.Type)
	return Info{URL: link, Size: size, Width: width, Height: height}
}

func (r Request) validate() error {
	if !r.Website.IsValid() {
		return fmt.Errorf("unknown website %q", r.Website)
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("unknown download type %q", r.Type)
	}
	if r.SavePath == "" {
		return errors.New("save path is required")
	}
	if r.Info().URL == "" {
		return fmt.Errorf("post %d has no %s url", r.Post.ID, r.Type)
	}
	return nil
}

// State is the mutable side of a job. Jobs hand out copies.
type State struct {
	Downloading  bool
	Downloaded   int64
	Stopped      bool
	Err          error
	DownloadAt   time.Time
	DownloadedAt *time.Time
}

// Queued reports whether admission may start the job.
func (s State) Queued() bool {
	return !s.Stopped && !s.Downloading && s.Err == nil
}

func (s State) begin(now time.Time) State {
	s.Downloading = true
	s.Downloaded = 0
	s.Stopped = false
	s.Err = nil
	s.DownloadAt = now
	s.DownloadedAt = nil
	return s
}

func (s State) progress(n int64) State {
	s.Downloaded = n
	return s
}

func (s State) succeed(now time.Time) State {
	s.Downloading = false
	s.DownloadedAt = &now
	return s
}

func (s State) fail(err error) State {
	s.Downloading = false
	s.Err = err
	return s
}

func (s State) stop() State {
	s.Stopped = true
	return s
}

// halt settles a transfer that ended because of a stop request.
func (s State) halt() State {
	s.Downloading = false
	s.Stopped = true
	s.Err = nil
	return s
}

func (s State) resume() State {
	s.Stopped = false
	s.Err = nil
	return s
}

type Job struct {
	id      string
	request Request
	info    Info
	manager *Manager

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
}

func (j *Job) ID() string {
	return j.id
}

func (j *Job) Request() Request {
	return j.request
}

func (j *Job) Info() Info {
	return j.info
}

func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Stop asks the owning manager to stop the job.
func (j *Job) Stop() error {
	return j.manager.Stop(j)
}

func (j *Job) DownloadedInfo() (models.DownloadedInfo, error) {
	state := j.State()
	if state.DownloadedAt == nil {
		return models.DownloadedInfo{}, ErrNotDownloaded
	}
	size := state.Downloaded
	if size == 0 {
		size = j.info.Size
	}
	return models.DownloadedInfo{
		Post:         j.request.Post,
		Website:      j.request.Website,
		DownloadType: j.request.Type,
		DownloadAt:   state.DownloadAt,
		DownloadedAt: *state.DownloadedAt,
		SavePath:     j.request.SavePath,
		Size:         size,
	}, nil
}

func (j *Job) update(fn func(State) State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = fn(j.state)
}

func (j *Job) matches(website models.Website, postID int64, downloadType models.DownloadType) bool {
	return j.request.Website == website && j.request.Post.ID == postID && j.request.Type == downloadType
}
