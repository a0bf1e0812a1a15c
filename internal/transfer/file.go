package transfer

import (
	"fmt"
	"path/filepath"
	"strings"
)

const MaxFileNameLength = 255

func ChunkCount(fileSize, chunkSize int64) int {
	if chunkSize <= 0 || fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// SanitizeFileName reduces a sender-supplied name to a bare file name that
// cannot escape the download directory.
func SanitizeFileName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if len(base) > MaxFileNameLength {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidFileName, len(base))
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidFileName)
	}
	return base, nil
}
