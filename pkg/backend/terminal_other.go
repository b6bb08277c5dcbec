//go:build !linux && !darwin

package backend

import (
	"context"
	"fmt"
	"runtime"
)

// startPTYSession is unsupported off Linux/macOS; the terminal agent's
// Initialize already fails there in practice, but Execute guards too.
func startPTYSession(ctx context.Context, shell string) (*ptySession, error) {
	return nil, fmt.Errorf("terminal back-end is not supported on %s", runtime.GOOS)
}
