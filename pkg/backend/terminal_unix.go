//go:build linux || darwin

package backend

import (
	"context"
	"os/exec"

	"github.com/creack/pty"
)

// startPTYSession spawns the shell on a fresh pseudo-terminal and starts
// the transcript reader.
func startPTYSession(ctx context.Context, shell string) (*ptySession, error) {
	cmd := exec.CommandContext(ctx, shell)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	sess := &ptySession{
		pty:        ptmx,
		cmd:        cmd,
		readerDone: make(chan struct{}),
	}

	go func() {
		defer close(sess.readerDone)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				sess.append(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	return sess, nil
}
