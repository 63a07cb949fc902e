//go:build unix

package sink

import (
	"os"
	"syscall"
)

func mkfifo(path string) error {
	return syscall.Mkfifo(path, 0o644)
}

func openNonblockingReader(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
}
