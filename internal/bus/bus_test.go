package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// shortPaths keeps socket paths under the unix socket length limit.
func shortPaths(t *testing.T) Paths {
	t.Helper()
	dir, err := os.MkdirTemp("", "lanna")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return Paths{Dir: dir}
}

func TestPidFile(t *testing.T) {
	p := Paths{Dir: filepath.Join(t.TempDir(), "lanna")}

	t.Run("create and remove", func(t *testing.T) {
		if err := p.CreatePidFile(); err != nil {
			t.Fatalf("CreatePidFile failed: %v", err)
		}
		data, err := os.ReadFile(p.Pid())
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != strconv.Itoa(os.Getpid()) {
			t.Errorf("PID file contains %q", data)
		}
		if err := p.RemovePidFile(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(p.Pid()); !os.IsNotExist(err) {
			t.Error("PID file should not exist after removal")
		}
	})

	t.Run("no pid file", func(t *testing.T) {
		if err := p.CheckExistingDaemon(); err != nil {
			t.Errorf("CheckExistingDaemon() = %v", err)
		}
	})

	t.Run("live process", func(t *testing.T) {
		if err := p.CreatePidFile(); err != nil {
			t.Fatal(err)
		}
		defer p.RemovePidFile()
		if err := p.CheckExistingDaemon(); err == nil {
			t.Error("CheckExistingDaemon should fail while the process runs")
		}
	})

	for name, content := range map[string]string{
		"stale pid":   "999999",
		"invalid pid": "invalid",
	} {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(p.Pid(), []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := p.CheckExistingDaemon(); err != nil {
				t.Errorf("CheckExistingDaemon() = %v", err)
			}
			if _, err := os.Stat(p.Pid()); !os.IsNotExist(err) {
				t.Error("leftover pid file should be removed")
			}
		})
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if isProcessAlive(999999) {
		t.Error("non-existent process should not be alive")
	}
	if isProcessAlive(0) {
		t.Error("pid 0 should not count as alive")
	}
}

func TestSendCommand(t *testing.T) {
	p := shortPaths(t)
	ln, err := p.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				switch line[0] {
				case CmdStatus:
					fmt.Fprint(c, "STATUS session=authenticated user=somchai\n")
				case CmdVersion:
					fmt.Fprintf(c, "STATUS proto=%s\n", ProtoVer)
				case CmdQuit:
					fmt.Fprint(c, "OK quitting\n")
				default:
					fmt.Fprintf(c, "ERR unknown=%q\n", line[0])
				}
			}(conn)
		}
	}()

	tests := []struct {
		cmd  byte
		want string
	}{
		{CmdStatus, "STATUS session=authenticated user=somchai"},
		{CmdVersion, "STATUS proto=" + ProtoVer},
		{CmdQuit, "OK quitting"},
		{'x', "ERR unknown='x'"},
	}
	for _, tt := range tests {
		got, err := p.SendCommand(tt.cmd)
		if err != nil {
			t.Errorf("SendCommand(%c) error = %v", tt.cmd, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SendCommand(%c) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestSendPayload(t *testing.T) {
	p := shortPaths(t)
	ln, err := p.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		got <- line
		fmt.Fprint(conn, "OK cached\n")
	}()

	payload := map[string]string{"transcription": "สวัสดี\nเจ้า"}
	reply, err := p.SendPayload(CmdCache, payload)
	if err != nil {
		t.Fatalf("SendPayload failed: %v", err)
	}
	if reply != "OK cached" {
		t.Errorf("reply = %q", reply)
	}

	line := <-got
	if line[0] != CmdCache {
		t.Fatalf("command byte = %q", line[0])
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSuffix(line[1:], "\n")), &decoded); err != nil {
		t.Fatalf("payload is not one JSON line: %v", err)
	}
	if decoded["transcription"] != "สวัสดี\nเจ้า" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestSendCommand_NoDaemon(t *testing.T) {
	p := shortPaths(t)
	if _, err := p.SendCommand(CmdStatus); err == nil {
		t.Error("SendCommand should fail without a listener")
	}
}

func TestParseReply(t *testing.T) {
	kind, fields, err := ParseReply("STATUS session=authenticated user=somchai cached")
	if err != nil || kind != "STATUS" {
		t.Fatalf("ParseReply() = %q, %v", kind, err)
	}
	if fields["session"] != "authenticated" || fields["user"] != "somchai" {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields["cached"]; !ok {
		t.Error("bare token should be kept")
	}

	if _, _, err := ParseReply("ERR refresh failed"); err == nil || err.Error() != "refresh failed" {
		t.Errorf("ERR reply error = %v", err)
	}
	if _, _, err := ParseReply("garbage"); err == nil {
		t.Error("malformed reply should fail")
	}
}

func TestDefaultPaths(t *testing.T) {
	p, err := DefaultPaths()
	if err != nil {
		t.Skipf("no cache dir: %v", err)
	}
	if !filepath.IsAbs(p.Sock()) || filepath.Base(p.Sock()) != SockName {
		t.Errorf("Sock() = %q", p.Sock())
	}
	if filepath.Base(p.Pid()) != PidName || filepath.Base(p.Dir) != "lanna" {
		t.Errorf("Pid() = %q", p.Pid())
	}
}
