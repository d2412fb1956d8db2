package catalog

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"catalogpipe/internal/mediatypes"
)

// Library is a configured root directory the pipeline watches/scans.
type Library struct {
	ID          string
	DisplayName string
	RootPath    string
	OwnerID     string
	Active      bool
	Settings    LibrarySettings
	Statistics  LibraryStatistics
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LibrarySettings is a Library's configurable scan and processing behavior.
type LibrarySettings struct {
	AutoScan            bool                `json:"autoScan"`
	ScanIntervalSeconds  int                 `json:"scanIntervalSeconds"`
	AllowedFormats       []string            `json:"allowedFormats"`
	ExcludedPaths        []string            `json:"excludedPaths"`
	MaxFileSize          int64               `json:"maxFileSize"`
	ThumbnailPreset      mediatypes.Preset   `json:"thumbnailPreset"`
	CachePreset          mediatypes.Preset   `json:"cachePreset"`
	UseDirectFileAccess  bool                `json:"useDirectFileAccess"`
}

// LibraryStatistics is a Library's cached rollup counters.
type LibraryStatistics struct {
	CollectionCount int       `json:"collectionCount"`
	MediaCount      int       `json:"mediaCount"`
	TotalBytes      int64     `json:"totalBytes"`
	LastScanAt      time.Time `json:"lastScanAt"`
}

// Collection is a media container: a directory inside a library or a single
// archive file.
type Collection struct {
	ID          string
	LibraryID   string
	DisplayName string
	Path        string
	Kind        mediatypes.CollectionKind
	Settings    CollectionSettings
	Statistics  CollectionStatistics
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64

	MediaItems    []MediaItem            `json:"mediaItems"`
	Thumbnails    []ThumbnailEmbedded    `json:"thumbnails"`
	CacheImages   []CacheImageEmbedded   `json:"cacheImages"`
	CacheBindings []CacheBindingEmbedded `json:"cacheBindings"`

	Deleted bool
}

// CollectionSettings is a Collection's configurable scan and processing behavior.
type CollectionSettings struct {
	AutoScan            bool     `json:"autoScan"`
	GenerateThumbnails   bool     `json:"generateThumbnails"`
	GenerateCache        bool     `json:"generateCache"`
	AllowedFormats       []string `json:"allowedFormats"`
	UseDirectFileAccess  bool     `json:"useDirectFileAccess"`
}

// CollectionStatistics is a Collection's cached rollup counters.
type CollectionStatistics struct {
	MediaCount     int       `json:"mediaCount"`
	ThumbnailCount int       `json:"thumbnailCount"`
	CachedCount    int       `json:"cachedCount"`
	TotalBytes     int64     `json:"totalBytes"`
	LastScanAt     time.Time `json:"lastScanAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// OriginSignature identifies where a MediaItem's bytes come from, used to
// detect changes across rescans without re-reading content. Fingerprint is
// an xxhash of the path, size, and modification time — a single comparable
// value standing in for all three.
type OriginSignature struct {
	ArchiveEntry string `json:"archiveEntry,omitempty"`
	Inode        uint64 `json:"inode,omitempty"`
	ModTimeUnix  int64  `json:"modTimeUnix,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Fingerprint  uint64 `json:"fingerprint,omitempty"`
}

// NewOriginFingerprint computes the xxhash OriginSignature.Fingerprint for a
// path/size/modTime triple.
func NewOriginFingerprint(path string, size, modTimeUnix int64) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s|%d|%d", path, size, modTimeUnix))
}

// MediaItem is one image or video embedded inside a Collection document.
type MediaItem struct {
	ID              string              `json:"id"`
	Filename        string              `json:"filename"`
	RelativePath    string              `json:"relativePath"`
	NormalizedPath  string              `json:"normalizedPath"`
	Format          string              `json:"format"`
	ByteSize        int64               `json:"byteSize"`
	Width           int                 `json:"width"`
	Height          int                 `json:"height"`
	DurationMs      int64               `json:"durationMs,omitempty"`
	Kind            mediatypes.Kind     `json:"kind"`
	InsertionOrder  int                 `json:"insertionOrder"`
	Origin          OriginSignature     `json:"originSignature"`
}

// ThumbnailEmbedded is a derivative reference for one preset of one media item.
type ThumbnailEmbedded struct {
	MediaItemID string    `json:"mediaItemId"`
	Preset      string    `json:"preset"`
	Format      string    `json:"format"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Path        string    `json:"path"`
	ByteSize    int64     `json:"byteSize"`
	GeneratedAt time.Time `json:"generatedAt"`
	IsDirect    bool      `json:"isDirect"`
}

// CacheImageEmbedded is a resized-cache derivative reference.
type CacheImageEmbedded struct {
	MediaItemID string    `json:"mediaItemId"`
	Preset      string    `json:"preset"`
	Format      string    `json:"format"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Path        string    `json:"path"`
	ByteSize    int64     `json:"byteSize"`
	GeneratedAt time.Time `json:"generatedAt"`
	IsDirect    bool      `json:"isDirect"`
}

// CacheBindingEmbedded records which CacheFolder a derivative's bytes live
// in, so currentBytes can be reversed out of the folder on eviction/removal.
type CacheBindingEmbedded struct {
	MediaItemID  string `json:"mediaItemId"`
	Preset       string `json:"preset"`
	CacheFolderID string `json:"cacheFolderId"`
	ByteSize     int64  `json:"byteSize"`
}

// CacheFolder is a disk-quota-bound derivative destination.
type CacheFolder struct {
	ID           string
	Name         string
	RootPath     string
	MaxBytes     int64
	CurrentBytes int64
	Priority     int
	Active       bool
}

// ScheduleType enumerates ScheduledJob trigger kinds.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
	ScheduleManual   ScheduleType = "manual"
)

// ScheduledJob is a time-triggered control-plane action.
type ScheduledJob struct {
	ID            string
	DisplayName   string
	TargetKind    string
	ScheduleType  ScheduleType
	CronSpec      string
	IntervalSecs  int
	Enabled       bool
	RunCount      int
	CoalescedRuns int
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	Parameters    map[string]any
}

// SystemSetting is a single row of the key/value systemSettings table.
type SystemSetting struct {
	Key   string
	Value string
}
