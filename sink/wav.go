package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"webradio/audio"
)

const wavHeaderSize = 44

// maxDataSize keeps the RIFF chunk size (36 + data) inside 32 bits
const maxDataSize = math.MaxUint32 - 36

// ErrArchiveFull is returned once a write would overflow the WAV size fields
var ErrArchiveFull = errors.New("archive reached the WAV size limit")

// WAV is the archive sink. Every Write appends PCM frames and rewrites the
// RIFF and data sizes, so the file is a valid recording after each call.
type WAV struct {
	path     string
	file     *os.File
	dataSize uint32
}

// CreateWAV creates a 16-bit PCM WAV file in the mixer's output format
func CreateWAV(path string) (*WAV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := &WAV{path: path, file: f}
	if _, err := f.WriteAt(header(0), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	return w, nil
}

func header(dataSize uint32) []byte {
	const (
		blockAlign = audio.Channels * audio.SampleWidth
		byteRate   = audio.SampleRate * blockAlign
	)
	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 36+dataSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], audio.Channels)
	binary.LittleEndian.PutUint32(h[24:], audio.SampleRate)
	binary.LittleEndian.PutUint32(h[28:], byteRate)
	binary.LittleEndian.PutUint16(h[32:], blockAlign)
	binary.LittleEndian.PutUint16(h[34:], audio.SampleWidth*8)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], dataSize)
	return h
}

// Write appends interleaved s16le frames. A write that would overflow the
// size fields is refused whole, leaving the recording intact.
func (w *WAV) Write(p []byte) (int, error) {
	if uint64(w.dataSize)+uint64(len(p)) > maxDataSize {
		return 0, fmt.Errorf("append %s: %w", w.path, ErrArchiveFull)
	}
	n, err := w.file.WriteAt(p, wavHeaderSize+int64(w.dataSize))
	w.dataSize += uint32(n)
	if err != nil {
		return n, fmt.Errorf("append %s: %w", w.path, err)
	}

	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], 36+w.dataSize)
	if _, err := w.file.WriteAt(sizes[:], 4); err != nil {
		return n, fmt.Errorf("update header %s: %w", w.path, err)
	}
	binary.LittleEndian.PutUint32(sizes[:], w.dataSize)
	if _, err := w.file.WriteAt(sizes[:], 40); err != nil {
		return n, fmt.Errorf("update header %s: %w", w.path, err)
	}
	return n, nil
}

// DataSize returns the number of PCM bytes written
func (w *WAV) DataSize() uint32 {
	return w.dataSize
}

// Path returns the archive location
func (w *WAV) Path() string {
	return w.path
}

// Close syncs and closes the archive
func (w *WAV) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync %s: %w", w.path, err)
	}
	return w.file.Close()
}
