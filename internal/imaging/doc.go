// Package imaging is the raster engine behind the image proxy.
//
// It sniffs source metadata, decodes source bytes into one or more frames,
// applies named operations and encodes the result. The transformation
// pipeline drives it through a small set of methods on Pipeline; the engine
// itself knows nothing about modifiers, caching or storage.
//
// # Frames
//
// A Pipeline holds a list of frames. Still images have exactly one frame.
// When Options.Animated is set and the source is a GIF, every frame is
// decoded and composited onto a full-size canvas, and every operation is
// applied to each frame so that the animation survives the pipeline.
//
// # Resize
//
// Resize is a pipeline setting rather than an immediate operation: the last
// requested size wins and is applied right before the next operation or at
// encode time. This matches how width and height modifiers combine into a
// single resample.
//
// # Formats
//
// Decoding covers JPEG, PNG, GIF, WebP, AVIF, TIFF and BMP. Encoding covers
// JPEG, PNG, GIF (animated or still), WebP, AVIF, TIFF and BMP. WebP and AVIF
// run through WebAssembly builds of libwebp and libaom, so no cgo is needed.
// HEIF output is an AV1-coded HEIF file. HEIC output returns
// ErrUnsupportedEncoding since it needs an HEVC encoder.
//
// # Thread Safety
//
// A Pipeline is owned by a single goroutine. DetectMeta is stateless and safe
// for concurrent use.
package imaging
