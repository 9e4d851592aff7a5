package executor

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmexec/common"
)

// ErrUnsupportedPath is returned for paths without a drive letter prefix
// (relative paths, UNC shares).
var ErrUnsupportedPath = errors.New("path is not an absolute drive-letter path")

// ConvertPathToWsl maps a Windows drive path onto the Linux subsystem's mount
// point: `C:\temp\x` becomes `/mnt/c/temp/x`. Both `\` and `/` are accepted as
// separators and the drive letter is always lowercased.
func ConvertPathToWsl(path string) (string, error) {
	if len(path) < 2 || path[1] != ':' || !isASCIILetter(path[0]) {
		return "", errors.Wrapf(ErrUnsupportedPath, "cannot translate %q", path)
	}
	drive := strings.ToLower(path[:1])
	rest := strings.ReplaceAll(path[2:], `\`, "/")
	rest = strings.TrimLeft(rest, "/")
	return common.WslMountRoot + drive + "/" + rest, nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
