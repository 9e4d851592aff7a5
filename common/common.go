package common

import (
	"io/fs"
	"time"
)

const (
	AppName = "xmexec"
)

// Log field names shared by the executors and the formatter's field ordering.
const (
	HostName    = "host"
	RunID       = "run_id"
	CommandName = "command"
	LocalHost   = "localhost"
)

const (
	// BashPath is the shell used for local execution on POSIX hosts.
	BashPath = "/bin/bash"
	// WslLauncher starts the Linux subsystem on Windows hosts.
	WslLauncher = "wsl.exe"
	// WslMountRoot is where the subsystem mounts Windows drives.
	WslMountRoot = "/mnt/"
)

const (
	// SudoCmdTpl prefixes a command with sudo.
	// Example: fmt.Sprintf(SudoCmdTpl, "whoami")
	SudoCmdTpl = "sudo %s"
	// SudoStdinCmdTpl pipes an already quoted password into sudo -S.
	// Example: fmt.Sprintf(SudoStdinCmdTpl, "'secret'", "whoami")
	SudoStdinCmdTpl = "echo %s | sudo -S %s"
	// SudoPrintfCmdTpl is SudoStdinCmdTpl for passwords echo would mangle.
	// Example: fmt.Sprintf(SudoPrintfCmdTpl, "-n", "whoami")
	SudoPrintfCmdTpl = "printf '%%s\\n' %s | sudo -S %s"
	// CdCmdTpl changes directory before running the rest of a command line.
	CdCmdTpl = "cd %s && %s"
)

const (
	DefaultSSHPort    = 22
	DefaultSSHTimeout = 30 * time.Second
)

const (
	// FileMode0755 represents rwxr-xr-x
	FileMode0755 fs.FileMode = 0755
	// FileMode0644 represents rw-r--r--
	FileMode0644 fs.FileMode = 0644
	// FileMode0600 represents rw-------
	FileMode0600 fs.FileMode = 0600
)

// RedactedPassword replaces a sudo password wherever command text is shown or logged.
const RedactedPassword = "******"
