package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	"catalogpipe/internal/logging"
	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/metrics"
)

var (
	vipsInitMutex sync.Mutex
	vipsReady     bool
)

// InitVips starts libvips once per process. Safe to call repeatedly.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	if vipsReady {
		return nil
	}
	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})
	vipsReady = true
	logging.Info("libvips initialized (version: %s)", vips.Version)
	return nil
}

// ShutdownVips releases libvips resources.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	if vipsReady {
		vips.Shutdown()
		vipsReady = false
	}
}

// IsVipsAvailable reports whether InitVips succeeded.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsReady
}

// ErrDecodeFailed wraps an image/video decode failure.
type ErrDecodeFailed struct{ Err error }

func (e *ErrDecodeFailed) Error() string { return fmt.Sprintf("decode failed: %v", e.Err) }
func (e *ErrDecodeFailed) Unwrap() error { return e.Err }

// ErrEncodeFailed wraps an image encode failure.
type ErrEncodeFailed struct{ Err error }

func (e *ErrEncodeFailed) Error() string { return fmt.Sprintf("encode failed: %v", e.Err) }
func (e *ErrEncodeFailed) Unwrap() error { return e.Err }

// ErrCorruptSource signals the source bytes could not be parsed as any
// supported format by any decode path.
type ErrCorruptSource struct{ Err error }

func (e *ErrCorruptSource) Error() string { return fmt.Sprintf("corrupt source: %v", e.Err) }
func (e *ErrCorruptSource) Unwrap() error { return e.Err }

// DecodeImage decodes r (the full content of one image source) to an
// image.Image, preferring vips when available and falling back to
// disintegration/imaging + golang.org/x/image's registered decoders.
func DecodeImage(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ErrCorruptSource{Err: err}
	}

	if IsVipsAvailable() {
		if img, err := decodeWithVips(data); err == nil {
			return img, nil
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	img2, _, err2 := image.Decode(bytes.NewReader(data))
	if err2 == nil {
		return img2, nil
	}

	return nil, &ErrCorruptSource{Err: err2}
}

func decodeWithVips(data []byte) (image.Image, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, &ErrDecodeFailed{Err: err}
	}
	defer ref.Close()

	out, _, err := ref.ExportJpeg(&vips.JpegExportParams{Quality: 95, StripMetadata: false})
	if err != nil {
		return nil, &ErrEncodeFailed{Err: err}
	}
	img, err := imaging.Decode(bytes.NewReader(out), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ErrDecodeFailed{Err: err}
	}
	return img, nil
}

// Resize fits img inside maxWidth x maxHeight, preserving aspect ratio and
// never upscaling.
func Resize(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth && b.Dy() <= maxHeight {
		return img
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
}

// Encode writes img to w in the preset's target format and quality (spec
// §4.3 step 3). Only "png" is written as PNG; every other format, including
// "jpeg"/"jpg", is written as JPEG.
func Encode(w io.Writer, img image.Image, preset mediatypes.Preset) error {
	var format imaging.Format
	switch strings.ToLower(preset.Format) {
	case "jpeg", "jpg":
		format = imaging.JPEG
	case "png":
		format = imaging.PNG
	default:
		format = imaging.JPEG
	}
	opts := []imaging.EncodeOption{}
	if format == imaging.JPEG {
		quality := preset.Quality
		if quality <= 0 {
			quality = 85
		}
		opts = append(opts, imaging.JPEGQuality(quality))
	}
	if err := imaging.Encode(w, img, format, opts...); err != nil {
		return &ErrEncodeFailed{Err: err}
	}
	return nil
}

// VideoFrame extracts a single representative frame from a video file via
// ffmpeg, probing duration first to seek to min(1s, duration/10) and
// falling back to time=0 if probing or the seek attempt fails.
func VideoFrame(ctx context.Context, path string) (image.Image, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, &ErrDecodeFailed{Err: fmt.Errorf("ffmpeg not found: %w", err)}
	}

	duration, err := probeDuration(ctx, path)
	if err == nil && duration > 0 {
		seek := duration / 10
		if seek > 1 {
			seek = 1
		}
		if seek > 0 {
			if img, err := extractFrame(ctx, path, formatSeekTime(seek)); err == nil {
				return img, nil
			}
		}
	}

	return extractFrame(ctx, path, "")
}

func probeDuration(ctx context.Context, path string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, err
	}
	s := strings.TrimSpace(stdout.String())
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("no duration reported")
	}
	return strconv.ParseFloat(s, 64)
}

func extractFrame(ctx context.Context, path, seek string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	args := []string{"-i", path}
	if seek != "" {
		args = append([]string{"-ss", seek}, args...)
	}
	args = append(args, "-vframes", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	ffmpegStart := time.Now()
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	metrics.DerivativeGenerationDuration.WithLabelValues("video_frame").Observe(time.Since(ffmpegStart).Seconds())
	if err != nil || stdout.Len() == 0 {
		return nil, &ErrDecodeFailed{Err: fmt.Errorf("ffmpeg extract failed: %w, stderr: %s", err, stderr.String())}
	}
	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, &ErrDecodeFailed{Err: err}
	}
	return img, nil
}

// formatSeekTime formats seconds as ffmpeg's HH:MM:SS.mmm seek argument.
func formatSeekTime(seconds float64) string {
	hours := int(seconds / 3600)
	minutes := int((seconds - float64(hours*3600)) / 60)
	secs := seconds - float64(hours*3600) - float64(minutes*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, secs)
}
