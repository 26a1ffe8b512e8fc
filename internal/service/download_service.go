package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/storage"
	"github.com/axxuxy/ax-image/internal/store"
)

var (
	ErrAlreadyQueued      = errors.New("download is already queued")
	ErrJobNotFound        = errors.New("download job not found")
	ErrDownloadedNotFound = errors.New("downloaded record not found")
	ErrInvalidFilter      = errors.New("invalid filter")
)

const (
	filterPageSize         = 100
	defaultDownloadFileExt = ".jpg"
)

type DownloadService struct {
	manager *download.Manager
	store   *store.SQLStore
	archive *ArchiveSettingsService
	saveDir string
	remove  func()
}

type EnqueueInput struct {
	Website  models.Website
	Post     models.Post
	Type     models.DownloadType
	SavePath string
}

type DownloadedQueryInput struct {
	Website models.Website
	First   *time.Time
	Last    *time.Time
	Limit   int
	Offset  int
	Filter  string
}

// NewDownloadService registers a listener on manager that records every
// finished job. archive may be nil.
func NewDownloadService(manager *download.Manager, s *store.SQLStore, archive *ArchiveSettingsService, saveDir string) *DownloadService {
	svc := &DownloadService{
		manager: manager,
		store:   s,
		archive: archive,
		saveDir: saveDir,
	}
	svc.remove = manager.AddListener(svc.onEvent)
	return svc
}

func (s *DownloadService) Close() {
	s.remove()
}

func (s *DownloadService) Manager() *download.Manager {
	return s.manager
}

func (s *DownloadService) Enqueue(in EnqueueInput) (*download.Job, error) {
	savePath := strings.TrimSpace(in.SavePath)
	if savePath == "" {
		savePath = s.DefaultSavePath(in.Website, in.Post, in.Type)
	}
	job, added, err := s.manager.EnqueueUnique(download.Request{
		Post:     in.Post,
		Website:  in.Website,
		Type:     in.Type,
		SavePath: savePath,
	})
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, fmt.Errorf("%w: %s %d %s", ErrAlreadyQueued, in.Website, in.Post.ID, in.Type)
	}
	return job, nil
}

// DefaultSavePath is {saveDir}/{website}/{type}/{id}{ext}, ext taken from
// the variant url.
func (s *DownloadService) DefaultSavePath(website models.Website, post models.Post, downloadType models.DownloadType) string {
	link, _, _, _ := post.Variant(downloadType)
	ext := path.Ext(models.FileName(link))
	if ext == "" && post.FileExt != "" && downloadType == models.DownloadTypeFile {
		ext = "." + post.FileExt
	}
	if ext == "" {
		ext = defaultDownloadFileExt
	}
	return filepath.Join(s.saveDir, string(website), string(downloadType), strconv.FormatInt(post.ID, 10)+ext)
}

func (s *DownloadService) Jobs() []*download.Job {
	return s.manager.Jobs()
}

func (s *DownloadService) Job(id string) (*download.Job, error) {
	job, ok := s.manager.Find(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *DownloadService) Stop(id string) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	return s.mapJobError(s.manager.Stop(job))
}

func (s *DownloadService) Resume(id string) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	return s.mapJobError(s.manager.Resume(job))
}

func (s *DownloadService) Cancel(id string) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	return s.mapJobError(s.manager.Cancel(job))
}

// Wait blocks until the manager is idle.
func (s *DownloadService) Wait(ctx context.Context) error {
	return s.manager.Wait(ctx)
}

func (s *DownloadService) mapJobError(err error) error {
	// the job may settle between lookup and the call
	if errors.Is(err, download.ErrUnknownJob) {
		return ErrJobNotFound
	}
	return err
}

func (s *DownloadService) IsDownloaded(ctx context.Context, website models.Website, postID int64, downloadType models.DownloadType) (bool, error) {
	_, found, err := s.store.GetDownloaded(ctx, website, postID, downloadType)
	return found, err
}

func (s *DownloadService) GetDownloaded(ctx context.Context, website models.Website, postID int64, downloadType models.DownloadType) (models.DownloadedInfo, error) {
	info, found, err := s.store.GetDownloaded(ctx, website, postID, downloadType)
	if err != nil {
		return models.DownloadedInfo{}, err
	}
	if !found {
		return models.DownloadedInfo{}, ErrDownloadedNotFound
	}
	return info, nil
}

// QueryDownloaded pages through the store until Limit records pass the
// filter. Offset counts matching records.
func (s *DownloadService) QueryDownloaded(ctx context.Context, in DownloadedQueryInput) ([]models.DownloadedInfo, error) {
	filter, err := CompileDownloadedFilter(in.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	q := store.DownloadedQuery{
		Website: in.Website,
		First:   in.First,
		Last:    in.Last,
		Limit:   in.Limit,
		Offset:  in.Offset,
	}
	if filter == nil {
		return s.store.QueryDownloaded(ctx, q)
	}

	pf := filter.Prefilter()
	if pf.Unsatisfiable {
		return []models.DownloadedInfo{}, nil
	}
	q.Websites = pf.Websites
	q.DownloadTypes = pf.DownloadTypes

	limit := in.Limit
	if limit <= 0 {
		limit = store.DefaultQueryLimit
	}
	skip := max(in.Offset, 0)
	q.Limit = filterPageSize
	q.Offset = 0

	out := make([]models.DownloadedInfo, 0, limit)
	for {
		page, err := s.store.QueryDownloaded(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, info := range page {
			ok, err := filter.Matches(info)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			out = append(out, info)
			if len(out) == limit {
				return out, nil
			}
		}
		if len(page) < q.Limit {
			return out, nil
		}
		q.Offset += len(page)
	}
}

// DeleteDownloaded removes the record and its archived copy. The local file
// is removed only when removeFile is set.
func (s *DownloadService) DeleteDownloaded(ctx context.Context, website models.Website, postID int64, downloadType models.DownloadType, removeFile bool) error {
	info, err := s.GetDownloaded(ctx, website, postID, downloadType)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDownloaded(ctx, website, postID, downloadType); err != nil {
		return err
	}
	if removeFile {
		if err := os.Remove(info.SavePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove downloaded file: %w", err)
		}
	}
	if s.archive == nil {
		return nil
	}
	archive, err := s.archive.Open(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return nil
	}
	return archive.Delete(ctx, storage.KeyFor(info))
}

func (s *DownloadService) onEvent(job *download.Job, event download.Event) {
	req := job.Request()
	logger := log.With().
		Str("job", job.ID()).
		Str("website", string(req.Website)).
		Int64("post", req.Post.ID).
		Str("type", string(req.Type)).
		Logger()

	switch event {
	case download.EventStart:
		logger.Debug().Msg("download started")
	case download.EventStop, download.EventCancel:
		logger.Info().Str("event", string(event)).Msg("download halted")
	case download.EventFailed:
		logger.Debug().Err(job.State().Err).Msg("download failed")
	case download.EventSucceed:
		info, err := job.DownloadedInfo()
		if err != nil {
			logger.Error().Err(err).Msg("read downloaded info")
			return
		}
		ctx := context.Background()
		if err := s.store.SaveDownloaded(ctx, info); err != nil {
			logger.Error().Err(err).Msg("save downloaded record")
			return
		}
		logger.Info().Int64("size", info.Size).Str("path", info.SavePath).Msg("download finished")
		s.archiveDownloaded(ctx, info)
	}
}

func (s *DownloadService) archiveDownloaded(ctx context.Context, info models.DownloadedInfo) {
	if s.archive == nil {
		return
	}
	archive, err := s.archive.Open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("open archive")
		return
	}
	if archive == nil {
		return
	}
	key := storage.KeyFor(info)
	if _, err := storage.ArchiveFile(ctx, archive, key, info.SavePath); err != nil {
		log.Error().Err(err).Str("key", key).Msg("archive download")
		return
	}
	log.Debug().Str("key", key).Msg("download archived")
}
