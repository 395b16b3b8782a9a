// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"bufio"
	"os"

	"golang.org/x/term"
)

// enterRawMode switches in to raw mode when it is a terminal, so a single
// keypress is enough to close the tunnel. The returned restore function is
// a no-op when raw mode was not entered. Callers own the restore: the
// reader blocked on stdin may never return, so it cannot be trusted to
// reset the terminal itself.
func enterRawMode(in *os.File) (restore func(), raw bool) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, false
	}
	return func() { _ = term.Restore(fd, old) }, true
}

// WaitForKeypress blocks until the operator presses a single key when the
// terminal is in raw mode; otherwise (pipes, CI) it falls back to reading
// a line.
func WaitForKeypress(in *os.File, raw bool) error {
	if raw {
		buf := make([]byte, 1)
		_, err := in.Read(buf)
		return err
	}

	reader := bufio.NewReader(in)
	_, err := reader.ReadString('\n')
	return err
}
