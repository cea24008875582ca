package registers

import (
	"io"
	"sync"
)

// Block is a small non-volatile store addressed by byte offset.
type Block interface {
	io.ReaderAt
	io.WriterAt
}

// Erased is the value of never-written bytes, as on flash and EEPROM.
const Erased = 0xFF

// MemBlock is a RAM-backed Block starting fully erased.
type MemBlock struct {
	mu  sync.Mutex
	buf []byte
}

func NewMemBlock(size int) *MemBlock {
	b := &MemBlock{buf: make([]byte, size)}
	for i := range b.buf {
		b.buf[i] = Erased
	}
	return b
}

func (m *MemBlock) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemBlock) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.buf[off:], p), nil
}

// Bytes returns a copy of the contents.
func (m *MemBlock) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}
