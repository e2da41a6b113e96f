package supervisor

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// lineDecoder accumulates raw child output and frames it into lines.
// Bytes are buffered until a newline arrives, so a multi-byte UTF-8
// character split across two chunks is reassembled before any string
// conversion happens. The final partial line is carried over and can be
// flushed at shutdown.
type lineDecoder struct {
	mu    sync.Mutex
	carry []byte
}

// feed appends chunk and returns the complete lines now available,
// keeping any trailing fragment as carry-over.
func (d *lineDecoder) feed(chunk []byte) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.carry = append(d.carry, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(d.carry[:i]))
		d.carry = d.carry[i+1:]
	}
	return lines
}

// flush returns the trimmed carry-over, if any, and resets the decoder.
func (d *lineDecoder) flush() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := strings.TrimSpace(string(d.carry))
	d.carry = nil
	return s
}

func (d *lineDecoder) reset() {
	d.mu.Lock()
	d.carry = nil
	d.mu.Unlock()
}

// pump reads r until EOF, feeding the decoder and handing complete
// lines to the supervisor. It exits when the child closes the stream.
func (s *Supervisor) pump(r io.Reader, stream string, dec *lineDecoder, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range dec.feed(buf[:n]) {
				s.handleLine(stream, line)
			}
		}
		if err != nil {
			return
		}
	}
}
