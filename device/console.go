package device

import (
	"context"
	"io"
	"sync"

	"github.com/evanphx/userprog/log"
)

// EOT is what Getc returns once the input stream has ended.
const EOT = 0o004

// Console is the keyboard and display the kernel talks to for fds 0 and 1.
type Console interface {
	// Getc blocks until a byte of input is available or ctx is done.
	Getc(ctx context.Context) (byte, error)

	// PutBytes writes b as one unit; output from concurrent callers is not
	// interleaved within a call.
	PutBytes(b []byte)
}

type StreamConsole struct {
	mu  sync.Mutex
	out io.Writer

	input chan byte
}

// NewConsole starts feeding bytes from in to Getc. A nil in behaves as an
// input stream that has already ended.
func NewConsole(in io.Reader, out io.Writer) *StreamConsole {
	c := &StreamConsole{
		out:   out,
		input: make(chan byte, 1000),
	}

	go c.feed(in)

	return c
}

func (c *StreamConsole) feed(in io.Reader) {
	defer close(c.input)

	if in == nil {
		return
	}

	buf := make([]byte, 100)

	for {
		n, err := in.Read(buf)
		for _, b := range buf[:n] {
			c.input <- b
		}

		if err != nil {
			if err != io.EOF {
				log.L.Error("error reading console input", "error", err)
			}
			return
		}
	}
}

func (c *StreamConsole) Getc(ctx context.Context) (byte, error) {
	select {
	case b, ok := <-c.input:
		if !ok {
			return EOT, nil
		}

		return b, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *StreamConsole) PutBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.out.Write(b)
	if err != nil {
		log.L.Error("error writing console output", "error", err)
	}
}
