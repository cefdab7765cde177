//go:build !linux && !darwin

package storage

import "errors"

func statfs(path string) (total, free int64, err error) {
	return 0, 0, errors.New("statfs not supported on this platform; set a volume capacity")
}
