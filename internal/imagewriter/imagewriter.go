// Package imagewriter wraps qemu-img invocation to inspect a downloaded
// image and write it to the node's target block device during a
// deploy step, without taking on partitioning or filesystem inspection
// itself.
//
// Grounded on digitalocean/go-qemu's qemu-img package, promoted from an
// indirect teacher dependency to direct use.
package imagewriter

import (
	"context"
	"fmt"

	qemuimg "github.com/digitalocean/go-qemu/qemu-img"

	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/log"
)

// Writer inspects and writes disk images onto a target device.
type Writer struct{}

// New creates an image writer.
func New() *Writer { return &Writer{} }

// ImageInfo is the subset of `qemu-img info` this module consumes.
type ImageInfo struct {
	Format    string
	VirtualMB int64
}

// Inspect runs `qemu-img info` on a downloaded image, translating any
// failure into InvalidImage so the director sees a distinguishable
// cause rather than a raw exec error.
func (w *Writer) Inspect(ctx context.Context, imagePath string) (*ImageInfo, error) {
	info, err := qemuimg.Info(imagePath)
	if err != nil {
		return nil, errs.NewInvalidImage(fmt.Sprintf("%s: %v", imagePath, err))
	}
	return &ImageInfo{
		Format:    info.Format,
		VirtualMB: info.VirtualSize / (1024 * 1024),
	}, nil
}

// WriteToDevice converts imagePath (in whatever format Inspect
// reported) directly onto device using qemu-img convert, which is the
// fast path IPA uses for raw/qcow2 images instead of a byte-for-byte
// dd-style copy.
func (w *Writer) WriteToDevice(ctx context.Context, imagePath, device string) error {
	logger := log.WithComponent("imagewriter")
	info, err := w.Inspect(ctx, imagePath)
	if err != nil {
		return err
	}
	logger.Info().Str("image", imagePath).Str("device", device).
		Str("format", info.Format).Int64("virtual_mb", info.VirtualMB).
		Msg("writing image to device")

	if err := qemuimg.Convert(imagePath, device, qemuimg.ConvertOptions{
		SourceFormat: info.Format,
		TargetFormat: "raw",
	}); err != nil {
		return errs.NewImageWriteError(device, err.Error())
	}
	return nil
}

// Checksum compares the checksum the caller computed for imagePath
// (actual) against the director-supplied one (expected). It does not
// read or hash the image itself; it exists so a mismatch carries the
// domain-specific ImageChecksumError kind rather than a bare error.
func (w *Writer) Checksum(imagePath, algorithm, expected, actual string) error {
	if expected != actual {
		return errs.NewImageChecksumError(imagePath, fmt.Sprintf("%s mismatch: want %s got %s", algorithm, expected, actual))
	}
	return nil
}
