package vm

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Image is a compiled program mapped read-only from disk.
type Image struct {
	f   *os.File
	mem mmap.MMap
}

// OpenImage maps the program file at path.
func OpenImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < int64(len(Signature)) {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrSig)
	}
	mem, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap program image: %v", err)
	}
	return &Image{f: f, mem: mem}, nil
}

// Bytes returns the mapped program. It is invalid after Close.
func (img *Image) Bytes() []byte { return img.mem }

func (img *Image) Close() error {
	err := img.mem.Unmap()
	if cerr := img.f.Close(); err == nil {
		err = cerr
	}
	return err
}
