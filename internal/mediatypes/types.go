package mediatypes

import "strings"

// Kind classifies a MediaItem.
type Kind string

const (
	// KindImage is a still image.
	KindImage Kind = "image"
	// KindVideo is a video.
	KindVideo Kind = "video"
)

// CollectionKind classifies a Collection's backing storage.
type CollectionKind string

const (
	// CollectionDirectory is a plain directory inside a library.
	CollectionDirectory CollectionKind = "directory"
	// CollectionZip is a zip archive.
	CollectionZip CollectionKind = "zip"
	// CollectionSevenZip is a 7z archive.
	CollectionSevenZip CollectionKind = "sevenzip"
	// CollectionRar is a rar archive.
	CollectionRar CollectionKind = "rar"
	// CollectionTar is a tar (optionally gzipped) archive.
	CollectionTar CollectionKind = "tar"
)

// IsArchive reports whether the collection kind is backed by an archive file
// rather than a plain directory. Archive kinds always have
// useDirectFileAccess=false (see the Collection invariants).
func (k CollectionKind) IsArchive() bool {
	return k != CollectionDirectory
}

// ImageExtensions is the set of supported image extensions (lowercase,
// leading dot), for archive entries and disk files alike.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".apng": true,
}

// VideoExtensions maps a supported video extension to true.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".wmv":  true,
	".flv":  true,
}

// DefaultAllowedFormats is the default Library.settings.allowedFormats set.
var DefaultAllowedFormats = []string{
	"jpg", "jpeg", "png", "webp", "gif", "bmp", "tiff", "apng",
	"mp4", "webm", "mov", "mkv", "avi", "wmv", "flv",
}

// ArchiveExtensions maps a supported archive-file extension to the
// CollectionKind it materializes as.
var ArchiveExtensions = map[string]CollectionKind{
	".zip":  CollectionZip,
	".cbz":  CollectionZip,
	".7z":   CollectionSevenZip,
	".cb7":  CollectionSevenZip,
	".rar":  CollectionRar,
	".cbr":  CollectionRar,
	".tar":  CollectionTar,
	".tgz":  CollectionTar,
	".tar.gz": CollectionTar,
}

// KindOfArchive returns the CollectionKind for a recognized archive
// extension (lowercase, leading dot), or "" if ext is not an archive format.
func KindOfArchive(ext string) CollectionKind {
	return ArchiveExtensions[ext]
}

// MimeTypes maps a supported extension to its MIME type, used only for
// derivative-output labeling (no HTTP transport lives in this module).
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".apng": "image/apng",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
}

// KindOf returns the Kind for a given extension (lowercase, leading dot).
// Returns "" if the extension is not a recognized media format.
func KindOf(ext string) Kind {
	if ImageExtensions[ext] {
		return KindImage
	}
	if VideoExtensions[ext] {
		return KindVideo
	}
	return ""
}

// IsMediaFile returns true if the extension represents a supported media file.
func IsMediaFile(ext string) bool {
	return KindOf(ext) != ""
}

// NormalizeExt lowercases an extension and ensures a leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// GetMimeType returns the MIME type for a given extension, or
// "application/octet-stream" if unrecognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[NormalizeExt(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Preset describes the output parameters for one derivative kind.
type Preset struct {
	Width            int
	Height           int
	Format           string // encode target, e.g. "jpeg"
	Quality          int
	PreserveOriginal bool // cache preset only; thumbnail preset ignores this
}

// DefaultThumbnailPreset is the default thumbnailPreset.
func DefaultThumbnailPreset() Preset {
	return Preset{Width: 300, Height: 300, Format: "jpeg", Quality: 85}
}

// DefaultCachePreset is the default cachePreset.
func DefaultCachePreset() Preset {
	return Preset{Width: 1920, Height: 1080, Format: "jpeg", Quality: 85, PreserveOriginal: false}
}
