// Package termio serializes terminal output and reads interactive answers
// from stdin.
package termio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ErrNoInput means stdin closed before an answer arrived.
var ErrNoInput = errors.New("no input")

type writer struct {
	file    *os.File
	ch      chan []byte
	flushed chan struct{}
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- buf
	return len(p), nil
}

func (w *writer) File() *os.File {
	return w.file
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer

	linesOnce sync.Once
	lines     chan string
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
	})
}

func newWriter(f *os.File) *writer {
	w := &writer{
		file:    f,
		ch:      make(chan []byte, 1024),
		flushed: make(chan struct{}),
	}
	go func() {
		for buf := range w.ch {
			if buf == nil {
				w.flushed <- struct{}{}
				continue
			}
			_, _ = w.file.Write(buf)
		}
	}()
	return w
}

// flush waits until everything queued before it reached the file.
func (w *writer) flush() {
	w.ch <- nil
	<-w.flushed
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StdoutFile() *os.File {
	Init()
	return global.stdout.file
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

// Flush blocks until queued output has been written.
func Flush() {
	Init()
	global.stdout.flush()
	global.stderr.flush()
}

// lines starts the single stdin reader. Answers are delivered in order to
// whichever prompt is waiting.
func lines() <-chan string {
	global.linesOnce.Do(func() {
		global.lines = make(chan string)
		go readLines(os.Stdin, global.lines)
	})
	return global.lines
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// Prompt writes question to stderr and waits for one line of input.
func Prompt(ctx context.Context, question string) (string, error) {
	fmt.Fprint(Stderr(), question)
	Flush()
	return readLine(ctx, lines())
}

func readLine(ctx context.Context, in <-chan string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-in:
		if !ok {
			return "", ErrNoInput
		}
		return strings.TrimSpace(line), nil
	}
}

// Confirm asks a yes/no question. Only "y" or "yes" count as yes.
func Confirm(ctx context.Context, question string) bool {
	answer, err := Prompt(ctx, question+" [y/N]: ")
	if err != nil {
		fmt.Fprintln(Stderr())
		return false
	}
	return isYes(answer)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
