package nvram

import (
	"io"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/internal/syncutil"
	"github.com/temoto/cloudlink/log2"
	"github.com/temoto/extremofile"
)

// Storage is fixed size non-volatile region.
// Short read is an error.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// MemoryStorage behaves like EEPROM: fixed size, erased state is 0xff.
type MemoryStorage struct {
	mu syncutil.Mutex
	b  []byte
	// Writes counts successful WriteAt calls.
	Writes int
	// Fail is returned by ReadAt/WriteAt while not nil.
	Fail error
	// FailWrite is returned by WriteAt only.
	FailWrite error
}

func NewMemoryStorage(size int) *MemoryStorage {
	m := &MemoryStorage{b: make([]byte, size)}
	for i := range m.b {
		m.b[i] = 0xff
	}
	return m
}

func (self *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Fail != nil {
		return 0, self.Fail
	}
	if off < 0 || off+int64(len(p)) > int64(len(self.b)) {
		return 0, io.ErrUnexpectedEOF
	}
	return copy(p, self.b[off:]), nil
}

func (self *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Fail != nil {
		return 0, self.Fail
	}
	if self.FailWrite != nil {
		return 0, self.FailWrite
	}
	if off < 0 || off+int64(len(p)) > int64(len(self.b)) {
		return 0, io.ErrShortWrite
	}
	self.Writes++
	return copy(self.b[off:], p), nil
}

// Bytes returns storage content. Slice aliases storage, tests use it to corrupt data.
func (self *MemoryStorage) Bytes() []byte { return self.b }

type blobStorage interface {
	Read() ([]byte, error)
	io.Writer
}

// FileStorage keeps region in extremofile: checksummed main+backup files,
// each write is atomic.
type FileStorage struct {
	mu   syncutil.Mutex
	log  *log2.Log
	size int64
	blob blobStorage
}

func NewFileStorage(dir string, size int, log *log2.Log) *FileStorage {
	if dir == "" {
		panic("code error nvram.NewFileStorage dir=empty")
	}
	return &FileStorage{
		log:  log,
		size: int64(size),
		blob: extremofile.New(extremofile.Config{
			Dir:      filepath.Clean(dir),
			DirPerm:  0700,
			FilePerm: 0600,
		}),
	}
}

func (self *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if off < 0 || off+int64(len(p)) > self.size {
		return 0, io.ErrUnexpectedEOF
	}
	region, err := self.read()
	if err != nil {
		return 0, err
	}
	return copy(p, region[off:]), nil
}

func (self *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if off < 0 || off+int64(len(p)) > self.size {
		return 0, io.ErrShortWrite
	}
	region, err := self.read()
	if err != nil {
		return 0, err
	}
	n := copy(region[off:], p)
	if _, err = self.blob.Write(region); err != nil {
		if extremofile.IsCritical(err) {
			return 0, errors.Annotate(err, "nvram file write")
		}
		self.log.Errorf("nvram file write backup err=%v", err)
	}
	return n, nil
}

// read returns whole region, missing or short data is padded with erased bytes.
func (self *FileStorage) read() ([]byte, error) {
	b, err := self.blob.Read()
	if err != nil {
		switch {
		case b != nil:
			self.log.Errorf("nvram file read ignore non-critical err=%v", err)
		case extremofile.IsCorrupt(err):
			// region is treated as erased, record validation will fail
			self.log.Errorf("nvram file corrupt err=%v", err)
		default:
			return nil, errors.Annotate(err, "nvram file read")
		}
	}
	region := make([]byte, self.size)
	n := copy(region, b)
	for i := n; i < len(region); i++ {
		region[i] = 0xff
	}
	return region, nil
}
