package transport

import (
	"os"
)

// File is the reference os.File-backed implementation of the transfer
// engine's consumed FileIO interface (open/pread_at/pwrite_at/preallocate/
// sync). An io_uring-backed implementation would satisfy the same shape
// without the core caring which is in use.
type File struct {
	f *os.File
}

// OpenFile opens path for read-write, creating the file if absent;
// missing parent directories are not created.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// PreadAt reads length bytes at offset.
func (f *File) PreadAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := f.f.ReadAt(buf, offset)
	if n == length {
		return buf, nil
	}
	return buf[:n], err
}

// PwriteAt writes buf at offset.
func (f *File) PwriteAt(offset int64, buf []byte) error {
	_, err := f.f.WriteAt(buf, offset)
	return err
}

// Preallocate extends the file to size, so concurrent out-of-order
// chunk writes never need the file to auto-grow one write at a time.
func (f *File) Preallocate(size int64) error {
	return f.f.Truncate(size)
}

// Sync flushes buffered writes to stable storage.
func (f *File) Sync() error { return f.f.Sync() }

// Close releases the underlying descriptor.
func (f *File) Close() error { return f.f.Close() }
