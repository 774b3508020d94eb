//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/cairn/internal/errors"
)

// openNoFollow opens an archive path. Windows has no O_NOFOLLOW;
// ResolveArchivePath has already refused symlinks.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if os.IsNotExist(err) {
		return nil, errors.NewFileNotFound(path)
	}
	return f, err
}
