package http

import (
	"time"

	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/format"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/service"
	"github.com/axxuxy/ax-image/internal/tags"
)

type searchResponse struct {
	Website string        `json:"website"`
	Query   string        `json:"query"`
	Page    int           `json:"page"`
	Posts   []models.Post `json:"posts"`
}

type enqueueRequest struct {
	Website  string      `json:"website"`
	Type     string      `json:"type"`
	Post     models.Post `json:"post"`
	SavePath string      `json:"savePath"`
}

type apiJob struct {
	ID             string `json:"id"`
	Website        string `json:"website"`
	PostID         int64  `json:"postId"`
	Type           string `json:"type"`
	URL            string `json:"url"`
	SavePath       string `json:"savePath"`
	Size           int64  `json:"size"`
	SizeText       string `json:"sizeText"`
	Width          int64  `json:"width"`
	Height         int64  `json:"height"`
	Downloading    bool   `json:"downloading"`
	Downloaded     int64  `json:"downloaded"`
	DownloadedText string `json:"downloadedText"`
	Stopped        bool   `json:"stopped"`
	Error          string `json:"error,omitempty"`
	DownloadAt     string `json:"downloadAt,omitempty"`
	DownloadedAt   string `json:"downloadedAt,omitempty"`
}

type listJobsResponse struct {
	Jobs             []apiJob `json:"jobs"`
	ConcurrencyLimit int      `json:"concurrencyLimit"`
}

type concurrencyRequest struct {
	Limit int `json:"limit"`
}

type apiDownloaded struct {
	models.DownloadedInfo
	SizeText      string `json:"size_text"`
	DownloadedDay string `json:"downloaded_day"`
}

type listDownloadedResponse struct {
	Items []apiDownloaded `json:"items"`
}

type listHistoryResponse struct {
	Items []models.SearchHistoryItem `json:"items"`
}

type restoreHistoryResponse struct {
	Website string         `json:"website"`
	Query   string         `json:"query"`
	Tags    []apiCommonTag `json:"tags"`
	Rating  *tags.Rating   `json:"rating,omitempty"`
	Order   string         `json:"order,omitempty"`
}

type apiCommonTag struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

type apiSettings struct {
	Proxy            string `json:"proxy"`
	ConcurrencyLimit int    `json:"concurrencyLimit"`
	SafeSearch       string `json:"safeSearch"`
}

type proxyRequest struct {
	Proxy string `json:"proxy"`
}

type safeSearchRequest struct {
	SafeSearch string `json:"safeSearch"`
}

type archiveRequest struct {
	Backend      string `json:"backend"`
	Dir          string `json:"dir"`
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region"`
	Bucket       string `json:"bucket"`
	AccessKeyID  string `json:"accessKeyId"`
	AccessSecret string `json:"accessKeySecret"`
	UsePathStyle bool   `json:"usePathStyle"`
}

type apiArchive struct {
	Backend  string `json:"backend"`
	Dir      string `json:"dir,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
}

func toAPIJob(job *download.Job) apiJob {
	req := job.Request()
	info := job.Info()
	state := job.State()
	out := apiJob{
		ID:             job.ID(),
		Website:        string(req.Website),
		PostID:         req.Post.ID,
		Type:           string(req.Type),
		URL:            info.URL,
		SavePath:       req.SavePath,
		Size:           info.Size,
		SizeText:       format.BitText(info.Size),
		Width:          info.Width,
		Height:         info.Height,
		Downloading:    state.Downloading,
		Downloaded:     state.Downloaded,
		DownloadedText: format.BitText(state.Downloaded),
		Stopped:        state.Stopped,
		DownloadAt:     formatMaybeTime(state.DownloadAt),
	}
	if state.Err != nil {
		out.Error = state.Err.Error()
	}
	if state.DownloadedAt != nil {
		out.DownloadedAt = formatTime(*state.DownloadedAt)
	}
	return out
}

func toAPIDownloaded(info models.DownloadedInfo) apiDownloaded {
	return apiDownloaded{
		DownloadedInfo: info,
		SizeText:       format.BitText(info.Size),
		DownloadedDay:  format.YMD(info.DownloadedAt),
	}
}

func toAPISettings(settings service.Settings) apiSettings {
	out := apiSettings{ConcurrencyLimit: settings.ConcurrencyLimit}
	if settings.Proxy != nil {
		out.Proxy = settings.Proxy.String()
	}
	if settings.SafeSearch != nil {
		out.SafeSearch = string(settings.SafeSearch.Mode) + string(settings.SafeSearch.Value)
	}
	return out
}

func toRestoreResponse(website models.Website, opts tags.Options) restoreHistoryResponse {
	query, _ := tags.Format(opts)
	out := restoreHistoryResponse{
		Website: string(website),
		Query:   query,
		Tags:    make([]apiCommonTag, 0, len(opts.Tags)),
		Rating:  opts.Rating,
	}
	for _, tag := range opts.Tags {
		out.Tags = append(out.Tags, apiCommonTag{Name: tag.Name, Mode: string(tag.Mode)})
	}
	if opts.Order != nil {
		out.Order = string(*opts.Order)
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatMaybeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
