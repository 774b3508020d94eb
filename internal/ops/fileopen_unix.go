//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/cairn/internal/errors"
)

// openNoFollow opens an archive path with O_NOFOLLOW and O_CLOEXEC added to
// flag. A symlink as the last component is INVALID_REQUEST and a missing
// file FILE_NOT_FOUND.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest("archive path is a symlink: " + path)
	case stderrors.Is(err, syscall.ENOENT):
		return nil, errors.NewFileNotFound(path)
	default:
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
}
