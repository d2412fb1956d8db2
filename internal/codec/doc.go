// Package codec is the Media Codec Gateway: decode, resize, and encode for
// images, plus single-frame extraction for video.
//
// Decode prefers libvips (github.com/davidbyttow/govips/v2), which decodes
// at full size, falling back to the pure-Go
// github.com/disintegration/imaging path and golang.org/x/image's extra
// format decoders when vips is unavailable or the format is unsupported.
// Video frame extraction shells out to ffmpeg, probing duration first to
// pick a representative, non-black seek time before falling back to
// time=0.
package codec
