// Package configdrive builds the ISO9660 config-drive image a deploy
// step attaches to the freshly written OS so cloud-init can find its
// metadata and user-data on first boot.
//
// Grounded on github.com/diskfs/go-diskfs (promoted from an indirect
// teacher dependency to direct use): Create a raw disk image sized to
// the payload, format it ISO9660 with the "config-2" volume label
// OpenStack's config-drive spec requires, and write each file through
// the filesystem handle it returns.
package configdrive

import (
	"fmt"
	"io"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"

	"github.com/ironrun/provisiond/internal/errs"
)

// maxSizeBytes bounds the config drive; larger requests fail with
// ConfigDriveTooLargeError rather than silently truncating.
const maxSizeBytes = 64 * 1024 * 1024

// File is one path/content pair to place on the config drive, e.g.
// "openstack/latest/meta_data.json".
type File struct {
	Path    string
	Content []byte
}

// Build writes an ISO9660 image at outPath containing files, failing
// with ConfigDriveTooLargeError if the payload exceeds the size budget
// or ConfigDriveWriteError for any filesystem-level failure.
func Build(outPath string, files []File) error {
	var total int64
	for _, f := range files {
		total += int64(len(f.Content))
	}
	if total > maxSizeBytes {
		return errs.NewConfigDriveTooLargeError(fmt.Sprintf("payload %d bytes exceeds %d byte budget", total, maxSizeBytes))
	}

	size := total + 1024*1024 // headroom for ISO9660 directory overhead
	d, err := diskfs.Create(outPath, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return errs.NewConfigDriveWriteError(err.Error())
	}

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeISO9660,
		VolumeLabel: "config-2",
	})
	if err != nil {
		return errs.NewConfigDriveWriteError(err.Error())
	}

	iso, ok := fs.(*iso9660.FileSystem)
	if !ok {
		return errs.NewConfigDriveWriteError("unexpected filesystem implementation from diskfs")
	}

	for _, f := range files {
		if err := writeFile(iso, f); err != nil {
			return errs.NewConfigDriveWriteError(fmt.Sprintf("%s: %v", f.Path, err))
		}
	}

	if err := iso.Finalize(iso9660.FinalizeOptions{}); err != nil {
		return errs.NewConfigDriveWriteError(err.Error())
	}
	return nil
}

func writeFile(fs *iso9660.FileSystem, f File) error {
	if err := fs.Mkdir(dirOf(f.Path)); err != nil {
		return err
	}
	out, err := fs.OpenFile(f.Path, 0)
	if err != nil {
		return err
	}
	if _, err := out.Write(f.Content); err != nil {
		return err
	}
	if closer, ok := out.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "/"
}
