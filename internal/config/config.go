package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/logging"
	"catalogpipe/internal/mediatypes"
)

// stageTopics lists the bus topics LoadConfig exposes per-stage overrides
// for (everything internal/stage consumes).
var stageTopics = []string{
	bus.TopicLibraryScan, bus.TopicCollectionScan,
	bus.TopicThumbnail, bus.TopicCache, bus.TopicBulkOperation,
}

var defaultVideoFormats = []string{"mp4", "webm", "mov", "mkv", "avi", "wmv", "flv"}

// Config holds every recognized configuration option.
type Config struct {
	DatabaseDir string
	CacheDir    string

	CatalogDBPath string
	BusDBPath     string
	IndexDBPath   string
	LeaseDBPath   string

	MetricsPort    string
	MetricsEnabled bool

	AllowedFormats []string
	VideoFormats   []string

	ThumbnailPreset mediatypes.Preset
	CachePreset     mediatypes.Preset

	// WorkerConcurrency overrides the computed pool size for a bus topic;
	// 0 means "let internal/workers compute a default" (see
	// internal/stage.Deps.Concurrency).
	WorkerConcurrency map[string]int

	// QueuePolicy is the per-topic bus.Policy (maxAttempts + backoff range).
	QueuePolicy map[string]bus.Policy

	// CacheFolderAllocationPolicy is validated against the one allocation
	// strategy internal/cachealloc implements (priority-then-lowestFill);
	// it is not yet a switch between strategies.
	CacheFolderAllocationPolicy string

	SchedulerCoalesceDuplicates bool
	IndexRebuildThresholdRatio  float64

	// ArchiveReaderPathRepair is validated and logged but internal/archive's
	// Resolve always performs truncated-name repair; there is currently no
	// archive reader mode that skips it.
	ArchiveReaderPathRepair bool
}

// LoadConfig reads and validates configuration from the environment,
// creating required directories and logging every resolved value.
func LoadConfig() (*Config, error) {
	logStartupBanner()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	databaseDir, err := filepath.Abs(getEnv("DATABASE_DIR", "/data/catalog"))
	if err != nil {
		return nil, fmt.Errorf("config: resolve DATABASE_DIR: %w", err)
	}
	cacheDir, err := filepath.Abs(getEnv("CACHE_DIR", "/data/cache"))
	if err != nil {
		return nil, fmt.Errorf("config: resolve CACHE_DIR: %w", err)
	}
	logging.Info("  DATABASE_DIR:  %s", databaseDir)
	logging.Info("  CACHE_DIR:     %s", cacheDir)

	if err := ensureWritableDirectory(databaseDir, "database"); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := ensureWritableDirectory(cacheDir, "cache"); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		DatabaseDir:   databaseDir,
		CacheDir:      cacheDir,
		CatalogDBPath: filepath.Join(databaseDir, "catalog.db"),
		BusDBPath:     filepath.Join(databaseDir, "bus.db"),
		IndexDBPath:   filepath.Join(databaseDir, "index.db"),
		LeaseDBPath:   filepath.Join(databaseDir, "scheduler-lease.db"),

		MetricsPort:    getEnv("METRICS_PORT", "9090"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		AllowedFormats: getEnvList("ALLOWED_FORMATS", mediatypes.DefaultAllowedFormats),
		VideoFormats:   getEnvList("VIDEO_FORMATS", defaultVideoFormats),

		ThumbnailPreset: loadPreset("THUMBNAIL", mediatypes.DefaultThumbnailPreset()),
		CachePreset:     loadPreset("CACHE", mediatypes.DefaultCachePreset()),

		WorkerConcurrency: loadWorkerConcurrency(),
		QueuePolicy:       loadQueuePolicy(),

		CacheFolderAllocationPolicy: getEnv("CACHE_FOLDER_ALLOCATION_POLICY", "priority-then-lowestFill"),
		SchedulerCoalesceDuplicates: getEnvBool("SCHEDULER_COALESCE_DUPLICATES", true),
		IndexRebuildThresholdRatio:  getEnvFloat("INDEX_REBUILD_THRESHOLD_RATIO", 10),
		ArchiveReaderPathRepair:     getEnvBool("ARCHIVE_READER_PATH_REPAIR", true),
	}

	if cfg.CacheFolderAllocationPolicy != "priority-then-lowestFill" {
		logging.Warn("  CACHE_FOLDER_ALLOCATION_POLICY=%q is not implemented; using priority-then-lowestFill",
			cfg.CacheFolderAllocationPolicy)
		cfg.CacheFolderAllocationPolicy = "priority-then-lowestFill"
	}

	logging.Info("  METRICS_PORT:                  %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:               %v", cfg.MetricsEnabled)
	logging.Info("  ALLOWED_FORMATS:               %s", strings.Join(cfg.AllowedFormats, ","))
	logging.Info("  VIDEO_FORMATS:                 %s", strings.Join(cfg.VideoFormats, ","))
	logging.Info("  THUMBNAIL_PRESET:              %dx%d %s q%d", cfg.ThumbnailPreset.Width, cfg.ThumbnailPreset.Height, cfg.ThumbnailPreset.Format, cfg.ThumbnailPreset.Quality)
	logging.Info("  CACHE_PRESET:                  %dx%d %s q%d preserveOriginal=%v", cfg.CachePreset.Width, cfg.CachePreset.Height, cfg.CachePreset.Format, cfg.CachePreset.Quality, cfg.CachePreset.PreserveOriginal)
	logging.Info("  CACHE_FOLDER_ALLOCATION_POLICY: %s", cfg.CacheFolderAllocationPolicy)
	logging.Info("  SCHEDULER_COALESCE_DUPLICATES: %v", cfg.SchedulerCoalesceDuplicates)
	logging.Info("  INDEX_REBUILD_THRESHOLD_RATIO: %.2f", cfg.IndexRebuildThresholdRatio)
	logging.Info("  ARCHIVE_READER_PATH_REPAIR:    %v", cfg.ArchiveReaderPathRepair)
	for _, topic := range stageTopics {
		logging.Info("  WORKER_CONCURRENCY[%s]: %d (0 = computed default)", topic, cfg.WorkerConcurrency[topic])
		p := cfg.QueuePolicy[topic]
		logging.Info("  MESSAGE_QUEUE[%s]: maxAttempts=%d backoff=%s..%s", topic, p.MaxAttempts, p.InitialDelay, p.MaxDelay)
	}

	return cfg, nil
}

func logStartupBanner() {
	logging.Info("------------------------------------------------------------")
	logging.Info("catalogpipe starting")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("  Go version: %s", runtime.Version())
	logging.Info("  OS/Arch:    %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs:       %d", runtime.NumCPU())
	logging.Info("")
}

func loadPreset(prefix string, def mediatypes.Preset) mediatypes.Preset {
	return mediatypes.Preset{
		Width:            getEnvInt(prefix+"_WIDTH", def.Width),
		Height:           getEnvInt(prefix+"_HEIGHT", def.Height),
		Format:           getEnv(prefix+"_FORMAT", def.Format),
		Quality:          getEnvInt(prefix+"_QUALITY", def.Quality),
		PreserveOriginal: getEnvBool(prefix+"_PRESERVE_ORIGINAL", def.PreserveOriginal),
	}
}

func loadWorkerConcurrency() map[string]int {
	out := make(map[string]int, len(stageTopics))
	for _, topic := range stageTopics {
		out[topic] = getEnvInt("WORKER_CONCURRENCY_"+envKeyForTopic(topic), 0)
	}
	return out
}

func loadQueuePolicy() map[string]bus.Policy {
	out := make(map[string]bus.Policy, len(stageTopics))
	for _, topic := range stageTopics {
		key := envKeyForTopic(topic)
		out[topic] = bus.Policy{
			MaxAttempts:  getEnvInt("MESSAGE_QUEUE_"+key+"_MAX_ATTEMPTS", bus.DefaultPolicy.MaxAttempts),
			InitialDelay: getEnvDuration("MESSAGE_QUEUE_"+key+"_INITIAL_BACKOFF", bus.DefaultPolicy.InitialDelay),
			MaxDelay:     getEnvDuration("MESSAGE_QUEUE_"+key+"_MAX_BACKOFF", bus.DefaultPolicy.MaxDelay),
		}
	}
	return out
}

func envKeyForTopic(topic string) string {
	return strings.ToUpper(strings.ReplaceAll(topic, ".", "_"))
}

func ensureWritableDirectory(path, name string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("%s directory %s: %w", name, path, err)
	}
	probe := filepath.Join(path, ".write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("%s directory %s is not writable: %w", name, path, err)
	}
	if err := os.Remove(probe); err != nil {
		logging.Warn("  failed to remove write test file %s: %v", probe, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		logging.Warn("invalid boolean for %s=%q, using default %v", key, v, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("invalid integer for %s=%q, using default %d", key, v, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logging.Warn("invalid float for %s=%q, using default %.2f", key, v, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		logging.Warn("invalid duration for %s=%q, using default %s", key, v, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
