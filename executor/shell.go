package executor

// The quoting rules below follow shutil.Escape from the Chromium OS tast
// project (Copyright 2019 The Chromium OS Authors, BSD-style license).

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// \w is [0-9A-Za-z_]. A leading "=" is unsafe in zsh.
	leadingSafeChars  = `-\w@%+:,./`
	trailingSafeChars = leadingSafeChars + "="
)

var safeRE = regexp.MustCompile(fmt.Sprintf("^[%s][%s]*$", leadingSafeChars, trailingSafeChars))

// ShellEscape quotes s so a POSIX shell reads it back as a single word.
// Strings that need no quoting are returned unchanged.
func ShellEscape(s string) string {
	if safeRE.MatchString(s) {
		return s
	}
	return singleQuote(s)
}

// singleQuote always wraps s in single quotes.
func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
