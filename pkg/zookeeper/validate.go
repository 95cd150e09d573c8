package zookeeper

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("zookeeper: invalid path")

// ValidatePath verifies that path is an absolute znode path. The root is a
// valid path.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidPath)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q does not start at the root", ErrInvalidPath, path)
	}
	if path == "/" {
		return nil
	}
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q should end in a node name, not a '/'", ErrInvalidPath, path)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: %q contains a null character", ErrInvalidPath, path)
	}

	// Since we have a leading /, then we expect the first name to be empty.
	for _, name := range strings.Split(path, "/")[1:] {
		switch name {
		case "":
			return fmt.Errorf("%w: %q contains an empty node name", ErrInvalidPath, path)
		case ".", "..":
			return fmt.Errorf("%w: %q contains a relative path", ErrInvalidPath, path)
		}
	}
	return nil
}
