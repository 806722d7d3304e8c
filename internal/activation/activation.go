// Package activation picks up listeners handed over by systemd socket
// activation, so `assetsync serve` can run from an assetsync.socket unit.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// firstFD is the first descriptor systemd passes (0-2 are stdio).
const firstFD = 3

// env holds the parsed LISTEN_* variables.
type env struct {
	count int
	names []string
}

// readEnv returns the activation variables meant for this process, or nil
// when there are none.
func readEnv() (*env, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return nil, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return nil, nil
	}
	count, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if count < 1 {
		return nil, nil
	}

	e := &env{count: count}
	if raw := os.Getenv("LISTEN_FDNAMES"); raw != "" {
		e.names = strings.Split(raw, ":")
	}
	return e, nil
}

// name returns the socket name systemd assigned to the i-th descriptor.
func (e *env) name(i int) string {
	if i < len(e.names) && e.names[i] != "" {
		return e.names[i]
	}
	return fmt.Sprintf("systemd-socket-%d", i)
}

// Listeners returns the systemd-activated listeners, or nil when the process
// was not socket activated. The LISTEN_* variables are unset afterwards so
// child processes don't inherit them.
func Listeners() ([]net.Listener, error) {
	e, err := readEnv()
	if err != nil || e == nil {
		return nil, err
	}

	listeners := make([]net.Listener, 0, e.count)
	for i := 0; i < e.count; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), e.name(i))
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		l, err := net.FileListener(file)
		// FileListener dups the descriptor.
		_ = file.Close()
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d (%s): %w", fd, e.name(i), err)
		}
		listeners = append(listeners, l)
	}

	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// Listen returns the first socket-activated listener if there is one and
// otherwise listens on addr. activated reports which case applied. Extra
// activated listeners are closed.
func Listen(addr string) (ln net.Listener, activated bool, err error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(listeners) > 0 {
		closeAll(listeners[1:])
		return listeners[0], true, nil
	}

	ln, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, false, nil
}

func closeAll(listeners []net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
