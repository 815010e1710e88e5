// Package message implements fixed capacity buffer with independent write
// and read cursors, and MessagePack compatible pack/unpack of scalar values,
// raw byte strings and container headers.
//
// Every Pack* either appends whole tag+payload or fails with ErrCapacity
// leaving Used() unchanged. Every Unpack* either consumes whole value or fails
// leaving read cursor unchanged.
package message

import "fmt"

var (
	ErrCapacity = fmt.Errorf("message buffer capacity exceeded")
	ErrNoData   = fmt.Errorf("message buffer has not enough data")
	ErrType     = fmt.Errorf("message unexpected type")
	ErrRange    = fmt.Errorf("message value out of range")
)

type Buffer struct {
	b       []byte
	written int
	read    int
}

func NewBuffer(size int) *Buffer {
	if size < 0 {
		panic(fmt.Sprintf("code error message.NewBuffer size=%d", size))
	}
	return &Buffer{b: make([]byte, size)}
}

// Clone returns deep copy with same content and cursors.
func (self *Buffer) Clone() *Buffer {
	c := &Buffer{
		b:       make([]byte, len(self.b)),
		written: self.written,
		read:    self.read,
	}
	copy(c.b, self.b)
	return c
}

// Clear discards content, storage is retained.
func (self *Buffer) Clear() {
	self.written = 0
	self.read = 0
}

// Restart reading from the beginning.
func (self *Buffer) Restart() { self.read = 0 }

// Size is total capacity.
func (self *Buffer) Size() int { return len(self.b) }

// Used is number of bytes written.
func (self *Buffer) Used() int { return self.written }

// SetUsed is for callers which filled Storage() directly.
func (self *Buffer) SetUsed(n int) error {
	if n < 0 || n > len(self.b) {
		return ErrCapacity
	}
	self.written = n
	if self.read > n {
		self.read = n
	}
	return nil
}

// Available is free space for writing.
func (self *Buffer) Available() int { return len(self.b) - self.written }

// Remaining is number of bytes written but not read yet.
func (self *Buffer) Remaining() int { return self.written - self.read }

// Bytes returns written content. Slice aliases buffer storage.
func (self *Buffer) Bytes() []byte { return self.b[:self.written] }

// Storage returns whole backing array regardless of cursors.
func (self *Buffer) Storage() []byte { return self.b }

// Peek returns next unread byte without consuming it.
func (self *Buffer) Peek() (byte, bool) {
	if self.read >= self.written {
		return 0, false
	}
	return self.b[self.read], true
}

func (self *Buffer) String() string {
	return fmt.Sprintf("message.Buffer(size=%d used=%d read=%d data=%x)", len(self.b), self.written, self.read, self.Bytes())
}

func (self *Buffer) reserve(n int) ([]byte, error) {
	if n > self.Available() {
		return nil, ErrCapacity
	}
	p := self.b[self.written : self.written+n]
	self.written += n
	return p, nil
}

func (self *Buffer) unread() []byte { return self.b[self.read:self.written] }
