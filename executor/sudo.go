package executor

import (
	"fmt"
	"strings"

	"github.com/mensylisir/xmexec/common"
)

// SudoCommand rewrites command text for local privileged execution.
// With a password the result is `echo <password> | sudo -S <command>`, the
// password shell-escaped only when it needs to be. Without one it is
// `sudo <command>`, which relies on passwordless sudo.
//
// echo would read a password starting with "-" as options and a dash-based sh
// expands backslashes in it, so such passwords are fed through
// `printf '%s\n' <password>` instead.
//
// The password is visible in the process list of the local host for the
// lifetime of the echo.
func SudoCommand(command, password string) string {
	return sudoRewrite(command, password, ShellEscape)
}

// RemoteSudoCommand is SudoCommand for the remote shell: the password is
// always single-quoted.
func RemoteSudoCommand(command, password string) string {
	return sudoRewrite(command, password, singleQuote)
}

func sudoRewrite(command, password string, quote func(string) string) string {
	if password == "" {
		return fmt.Sprintf(common.SudoCmdTpl, command)
	}
	return fmt.Sprintf(stdinTemplate(password), quote(password), command)
}

func stdinTemplate(password string) string {
	if strings.HasPrefix(password, "-") || strings.Contains(password, `\`) {
		return common.SudoPrintfCmdTpl
	}
	return common.SudoStdinCmdTpl
}

// redactedSudoCommand is what gets logged and stored in CommandResult.Command.
func redactedSudoCommand(command, password string) string {
	if password == "" {
		return fmt.Sprintf(common.SudoCmdTpl, command)
	}
	return fmt.Sprintf(stdinTemplate(password), common.RedactedPassword, command)
}
