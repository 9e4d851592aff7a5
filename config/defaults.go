package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mensylisir/xmexec/common"
)

// Built-in defaults applied when the inventory does not set its own.
const (
	DefaultUser = "root"
)

// SetDefaults fills empty host fields from inv.Defaults, then from the
// built-in defaults, and expands a leading ~ in file paths.
func SetDefaults(inv *Inventory) {
	d := &inv.Defaults
	if d.User == "" {
		d.User = DefaultUser
	}
	if d.Port == 0 {
		d.Port = common.DefaultSSHPort
	}
	if d.Timeout == 0 {
		d.Timeout = common.DefaultSSHTimeout
	}
	d.KnownHostsFile = expandHome(d.KnownHostsFile)
	inv.Local.WorkDir = expandHome(inv.Local.WorkDir)

	for i := range inv.Hosts {
		h := &inv.Hosts[i]
		if h.User == "" {
			h.User = d.User
		}
		if h.Port == 0 {
			h.Port = d.Port
		}
		if h.Timeout == 0 {
			h.Timeout = d.Timeout
		}
		if h.KnownHostsFile == "" {
			h.KnownHostsFile = d.KnownHostsFile
		}
		h.PrivateKeyPath = expandHome(h.PrivateKeyPath)
		h.KnownHostsFile = expandHome(h.KnownHostsFile)
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
