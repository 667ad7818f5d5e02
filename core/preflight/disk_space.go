package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"diffusion_backend/core"
)

// DiskSpaceInfo describes the filesystem holding Path.
type DiskSpaceInfo struct {
	Path  string
	Total int64
	Free  int64
}

// DiskSpaceError reports too little free space.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, core.FormatBytes(e.Required), core.FormatBytes(e.Available))
}

// GetDiskSpace reports space for path, walking up to the nearest existing
// directory when path does not exist yet.
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	path = filepath.Clean(path)
	for {
		info, err := os.Stat(path)
		if err == nil {
			if !info.IsDir() {
				path = filepath.Dir(path)
			}
			break
		}
		parent := filepath.Dir(path)
		if !os.IsNotExist(err) || parent == path {
			return nil, fmt.Errorf("cannot access path %s: %w", path, err)
		}
		path = parent
	}

	total, free, err := diskSpace(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk space for %s: %w", path, err)
	}
	return &DiskSpaceInfo{Path: path, Total: total, Free: free}, nil
}

// RequireDiskSpace returns a *DiskSpaceError when path has less than
// required bytes free.
func RequireDiskSpace(path string, required int64) (*DiskSpaceInfo, error) {
	info, err := GetDiskSpace(path)
	if err != nil {
		return nil, err
	}
	if info.Free < required {
		return info, &DiskSpaceError{Path: info.Path, Required: required, Available: info.Free}
	}
	return info, nil
}
