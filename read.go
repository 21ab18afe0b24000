// Low-level read primitives for the newline-delimited format.
//
// Every line is terminated by '\n'. These functions read individual lines
// and walk line ranges via SectionReader or ReadAt so that concurrent
// readers sharing a single *os.File do not interfere with each other's
// offsets.
package jsonlt

import (
	"bufio"
	"io"
	"os"
)

// line reads the record starting at offset up to the next newline.
// SectionReader is used so the read is bounded by file size and does not
// affect the shared file position.
func line(f *os.File, offset int64) ([]byte, error) {
	sz, err := size(f)
	if err != nil {
		return nil, err
	}
	remaining := sz - offset
	if remaining <= 0 {
		return nil, io.EOF
	}

	section := io.NewSectionReader(f, offset, remaining)
	data, err := bufio.NewReader(section).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	return data, nil
}

func size(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// walkLines invokes fn for every line in [start, end), passing the line's
// byte offset and its content without the trailing newline. The final line
// of a file may be unterminated after a failed append; walkLines surfaces
// it with terminated=false so the caller can reject or ignore it.
func walkLines(f *os.File, start, end int64, bufSize int, fn func(off int64, data []byte, terminated bool) error) error {
	if start >= end {
		return nil
	}
	r := bufio.NewReaderSize(io.NewSectionReader(f, start, end-start), bufSize)
	off := start
	for {
		data, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}
		terminated := len(data) > 0 && data[len(data)-1] == '\n'
		consumed := int64(len(data))
		if terminated {
			data = data[:len(data)-1]
		}
		if len(data) > 0 || terminated {
			if ferr := fn(off, data, terminated); ferr != nil {
				return ferr
			}
		}
		off += consumed
		if err == io.EOF {
			return nil
		}
	}
}
