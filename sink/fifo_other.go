//go:build !unix

package sink

import (
	"errors"
	"os"
)

var errNoFIFO = errors.New("named pipes are not supported on this platform")

func mkfifo(path string) error {
	return errNoFIFO
}

func openNonblockingReader(path string) (*os.File, error) {
	return nil, errNoFIFO
}
