// Package bus is the control socket between the lanna CLI and its daemon.
package bus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const SockName = "control.sock"
const PidName = "lanna.pid"
const ProtoVer = "0.3"

// Commands understood by the daemon, one byte followed by a newline.
const (
	CmdStatus  byte = 's'
	CmdRefresh byte = 'r'
	CmdLogout  byte = 'l'
	CmdVersion byte = 'v'
	CmdQuit    byte = 'q'
	// CmdCache is followed by a JSON entry on the same line.
	CmdCache byte = 'c'
)

const commandTimeout = 20 * time.Second

// Paths locates the socket and pid file in one directory.
type Paths struct {
	Dir string
}

// DefaultPaths is ~/.cache/lanna.
func DefaultPaths() (Paths, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return Paths{}, err
	}
	return Paths{Dir: filepath.Join(dir, "lanna")}, nil
}

func (p Paths) Sock() string { return filepath.Join(p.Dir, SockName) }

func (p Paths) Pid() string { return filepath.Join(p.Dir, PidName) }

func (p Paths) Listen() (net.Listener, error) {
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(p.Sock()) // stale socket from last run
	return net.Listen("unix", p.Sock())
}

func (p Paths) Dial() (net.Conn, error) {
	return net.DialTimeout("unix", p.Sock(), time.Second)
}

// SendCommand sends cmd and returns the single-line reply without its
// trailing newline.
func (p Paths) SendCommand(cmd byte) (string, error) {
	return p.send([]byte{cmd, '\n'})
}

// SendPayload sends cmd followed by v encoded as single-line JSON.
func (p Paths) SendPayload(cmd byte, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	msg := make([]byte, 0, len(data)+2)
	msg = append(msg, cmd)
	msg = append(msg, data...)
	return p.send(append(msg, '\n'))
}

func (p Paths) send(msg []byte) (string, error) {
	c, err := p.Dial()
	if err != nil {
		return "", fmt.Errorf("daemon not reachable: %w", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(commandTimeout))

	if _, err := c.Write(msg); err != nil {
		return "", err
	}

	resp, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(resp, "\n"), nil
}

// ParseReply splits "OK ..." / "STATUS k=v ..." / "ERR ..." replies. An ERR
// reply is returned as an error.
func ParseReply(line string) (kind string, fields map[string]string, err error) {
	kind, rest, _ := strings.Cut(line, " ")
	switch kind {
	case "ERR":
		return kind, nil, errors.New(rest)
	case "OK", "STATUS":
	default:
		return "", nil, fmt.Errorf("malformed reply %q", line)
	}
	fields = make(map[string]string)
	for _, tok := range strings.Fields(rest) {
		if k, v, ok := strings.Cut(tok, "="); ok {
			fields[k] = v
		} else {
			fields[tok] = ""
		}
	}
	return kind, fields, nil
}

// CheckExistingDaemon fails if the pid file names a live process. A stale or
// unreadable pid file is removed.
func (p Paths) CheckExistingDaemon() error {
	pidData, err := os.ReadFile(p.Pid())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil || !isProcessAlive(pid) {
		_ = os.Remove(p.Pid())
		return nil
	}
	return fmt.Errorf("daemon already running with PID %d", pid)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (p Paths) CreatePidFile() error {
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.Pid(), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func (p Paths) RemovePidFile() error {
	return os.Remove(p.Pid())
}
