// Package autostart registers the watch loop to start at login
package autostart

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName        = "glycemia"
	appDisplayName = "Glycemia"

	// OS constants
	osLinux   = "linux"
	osWindows = "windows"
	osDarwin  = "darwin"

	runKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`
)

// Entry starts Exec with Args at login
type Entry struct {
	OS        string // runtime.GOOS when empty
	Exec      string // os.Executable() when empty
	Args      []string
	ConfigDir string // XDG config dir on Linux, default $XDG_CONFIG_HOME or ~/.config
	HomeDir   string // LaunchAgents parent on macOS, default the user home
}

// NewEntry returns an entry running the current executable with args
func NewEntry(args ...string) *Entry {
	return &Entry{Args: args}
}

func (e *Entry) goos() string {
	if e.OS != "" {
		return e.OS
	}
	return runtime.GOOS
}

func (e *Entry) command() (string, error) {
	execPath := e.Exec
	if execPath == "" {
		var err error
		if execPath, err = os.Executable(); err != nil {
			return "", err
		}
	}
	parts := []string{quoteArg(execPath)}
	for _, a := range e.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " "), nil
}

// quoteArg quotes arguments containing spaces
func quoteArg(a string) string {
	if strings.ContainsAny(a, " \t") {
		return `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
	}
	return a
}

// IsEnabled checks if auto-start is enabled
func (e *Entry) IsEnabled() (bool, error) {
	switch e.goos() {
	case osLinux, osDarwin:
		path, err := e.Path()
		if err != nil {
			return false, err
		}
		_, err = os.Stat(path)
		return err == nil, nil
	case osWindows:
		err := exec.Command("reg", "query", runKey, "/v", appName).Run()
		return err == nil, nil
	default:
		return false, fmt.Errorf("unsupported platform: %s", e.goos())
	}
}

// Enable enables auto-start
func (e *Entry) Enable() error {
	switch e.goos() {
	case osLinux:
		return e.enableLinux()
	case osWindows:
		return e.enableWindows()
	case osDarwin:
		return e.enableMacOS()
	default:
		return fmt.Errorf("unsupported platform: %s", e.goos())
	}
}

// Disable disables auto-start. Disabling a missing entry is not an error.
func (e *Entry) Disable() error {
	switch e.goos() {
	case osLinux, osDarwin:
		path, err := e.Path()
		if err != nil {
			return err
		}
		if e.goos() == osDarwin {
			// Unload the agent first (ignore errors as the file may not be loaded)
			//nolint:gosec // G204: path is built from the home dir, not user input
			_ = exec.Command("launchctl", "unload", path).Run()
		}
		err = os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	case osWindows:
		err := exec.Command("reg", "delete", runKey, "/v", appName, "/f").Run()
		if err != nil && strings.Contains(err.Error(), "not exist") {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unsupported platform: %s", e.goos())
	}
}

// Path returns the autostart file on Linux and macOS
func (e *Entry) Path() (string, error) {
	switch e.goos() {
	case osLinux:
		dir := e.ConfigDir
		if dir == "" {
			dir = os.Getenv("XDG_CONFIG_HOME")
		}
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config")
		}
		return filepath.Join(dir, "autostart", appName+".desktop"), nil
	case osDarwin:
		home := e.HomeDir
		if home == "" {
			var err error
			if home, err = os.UserHomeDir(); err != nil {
				return "", err
			}
		}
		return filepath.Join(home, "Library", "LaunchAgents", "com."+appName+".plist"), nil
	default:
		return "", fmt.Errorf("no autostart file on %s", e.goos())
	}
}

// Linux implementation using XDG autostart
func (e *Entry) enableLinux() error {
	path, err := e.Path()
	if err != nil {
		return err
	}
	command, err := e.command()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	content := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=%s
Exec=%s
Comment=Blood sugar prediction alerts
Categories=Utility;
Terminal=false
StartupNotify=false
X-GNOME-Autostart-enabled=true
`, appDisplayName, command)

	return os.WriteFile(path, []byte(content), 0600)
}

// Windows implementation using the Run registry key
func (e *Entry) enableWindows() error {
	command, err := e.command()
	if err != nil {
		return err
	}

	//nolint:gosec // G204: command is built from os.Executable() and fixed arguments
	return exec.Command("reg", "add", runKey, "/v", appName, "/t", "REG_SZ", "/d", command, "/f").Run()
}

// macOS implementation using LaunchAgents
func (e *Entry) enableMacOS() error {
	path, err := e.Path()
	if err != nil {
		return err
	}

	execPath := e.Exec
	if execPath == "" {
		if execPath, err = os.Executable(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	var args strings.Builder
	for _, a := range append([]string{execPath}, e.Args...) {
		fmt.Fprintf(&args, "        <string>%s</string>\n", xmlEscape(a))
	}

	content := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
</dict>
</plist>
`, appName, args.String())

	return os.WriteFile(path, []byte(content), 0600)
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}
