package repl

import (
	"bufio"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// lineReader yields one input line at a time. io.EOF ends the session.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	scanner *bufio.Scanner
	prompt  string
	out     io.Writer
}

func newScannerReader(in io.Reader, out io.Writer, prompt string) *scannerReader {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scannerReader{scanner: s, prompt: prompt, out: out}
}

func (r *scannerReader) ReadLine() (string, error) {
	io.WriteString(r.out, r.prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

// terminalReader edits lines with x/term. The terminal is in raw mode only
// while a line is being read so command output is written normally.
type terminalReader struct {
	fd int
	t  *term.Terminal

	mu  sync.Mutex
	raw *term.State // saved state while a read is in progress
}

func newTerminalReader(f *os.File, prompt string) *terminalReader {
	rw := struct {
		io.Reader
		io.Writer
	}{f, os.Stdout}
	return &terminalReader{fd: int(f.Fd()), t: term.NewTerminal(rw, prompt)}
}

func (r *terminalReader) ReadLine() (string, error) {
	oldState, err := term.MakeRaw(r.fd)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.raw = oldState
	r.mu.Unlock()

	if width, height, err := term.GetSize(r.fd); err == nil {
		r.t.SetSize(width, height)
	}
	line, err := r.t.ReadLine()
	if restoreErr := r.restore(); restoreErr != nil && err == nil {
		err = restoreErr
	}
	return line, err
}

func (r *terminalReader) restore() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raw == nil {
		return nil
	}
	err := term.Restore(r.fd, r.raw)
	r.raw = nil
	return err
}

// Close puts the terminal back in cooked mode if the loop exits while a
// read is still pending.
func (r *terminalReader) Close() error {
	return r.restore()
}

// isTerminal reports whether in is an interactive terminal.
func isTerminal(in io.Reader) (*os.File, bool) {
	f, ok := in.(*os.File)
	if !ok {
		return nil, false
	}
	return f, term.IsTerminal(int(f.Fd()))
}
