package deps

import (
	"os/exec"
	"strings"
)

// Status represents the installation status of a dependency
type Status struct {
	Name      string
	Purpose   string
	Installed bool
	Path      string
	Version   string
}

// Tool is an external program lanna shells out to.
type Tool struct {
	Name        string
	Purpose     string
	VersionArgs []string
}

// Tools lists the programs used for recording, notifications and the
// clipboard. None is required for transcribing files or translating.
var Tools = []Tool{
	{Name: "pw-record", Purpose: "microphone recording", VersionArgs: []string{"--version"}},
	{Name: "notify-send", Purpose: "desktop notifications", VersionArgs: []string{"--version"}},
	{Name: "wl-copy", Purpose: "clipboard on Wayland", VersionArgs: []string{"--version"}},
	{Name: "xclip", Purpose: "clipboard on X11", VersionArgs: []string{"-version"}},
}

var lookPath = exec.LookPath

// Check looks tool up on PATH and asks it for its version.
func Check(tool Tool) Status {
	status := Status{Name: tool.Name, Purpose: tool.Purpose}
	path, err := lookPath(tool.Name)
	if err != nil {
		return status
	}
	status.Installed = true
	status.Path = path

	if len(tool.VersionArgs) == 0 {
		return status
	}
	// some tools print their version on stderr
	output, err := exec.Command(path, tool.VersionArgs...).CombinedOutput()
	if err == nil {
		status.Version = firstLine(string(output))
	}
	return status
}

// CheckAll checks every entry of Tools.
func CheckAll() []Status {
	out := make([]Status, len(Tools))
	for i, tool := range Tools {
		out[i] = Check(tool)
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
