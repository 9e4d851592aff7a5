package config

import (
	"fmt"
	"time"

	"github.com/mensylisir/xmexec/executor"
)

// Inventory is the top-level configuration file: shared defaults, local
// execution settings and the list of remote hosts.
type Inventory struct {
	Defaults DefaultsSpec `yaml:"defaults"`
	Local    LocalSpec    `yaml:"local"`
	Hosts    []HostSpec   `yaml:"hosts"`
}

// DefaultsSpec fills in fields a HostSpec leaves empty.
type DefaultsSpec struct {
	User           string        `yaml:"user,omitempty"`
	Port           int           `yaml:"port,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	KnownHostsFile string        `yaml:"knownHostsFile,omitempty"`
}

// LocalSpec configures the local executor.
type LocalSpec struct {
	WorkDir string `yaml:"workDir,omitempty"`
}

// HostSpec defines one remote host.
type HostSpec struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port,omitempty"`
	User           string        `yaml:"user,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	PrivateKeyPath string        `yaml:"privateKeyPath,omitempty"`
	AgentSocket    string        `yaml:"agentSocket,omitempty"`
	KnownHostsFile string        `yaml:"knownHostsFile,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Bastion        string        `yaml:"bastion,omitempty"`
	BastionPort    int           `yaml:"bastionPort,omitempty"`
	BastionUser    string        `yaml:"bastionUser,omitempty"`
}

// Validate checks that every host has a unique name and an address.
func (inv *Inventory) Validate() error {
	seen := make(map[string]bool, len(inv.Hosts))
	for i, h := range inv.Hosts {
		if h.Name == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("hosts[%d]: duplicate host name %q", i, h.Name)
		}
		seen[h.Name] = true
		if h.Address == "" {
			return fmt.Errorf("host %q: address is required", h.Name)
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("host %q: port %d out of range", h.Name, h.Port)
		}
	}
	return nil
}

// Host looks up a host by name.
func (inv *Inventory) Host(name string) (HostSpec, bool) {
	for _, h := range inv.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostSpec{}, false
}

// Select returns the named hosts in inventory order. An empty names list
// selects every host. Unknown names are an error.
func (inv *Inventory) Select(names []string) ([]HostSpec, error) {
	if len(names) == 0 {
		return inv.Hosts, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := inv.Host(n); !ok {
			return nil, fmt.Errorf("unknown host %q", n)
		}
		wanted[n] = true
	}
	selected := make([]HostSpec, 0, len(wanted))
	for _, h := range inv.Hosts {
		if wanted[h.Name] {
			selected = append(selected, h)
		}
	}
	return selected, nil
}

// RemoteConfig converts the host into executor settings.
func (h HostSpec) RemoteConfig() executor.RemoteConfig {
	return executor.RemoteConfig{
		Username:       h.User,
		Host:           h.Address,
		Port:           h.Port,
		Password:       h.Password,
		KeyFile:        h.PrivateKeyPath,
		AgentSocket:    h.AgentSocket,
		KnownHostsFile: h.KnownHostsFile,
		Timeout:        h.Timeout,
		Bastion:        h.Bastion,
		BastionPort:    h.BastionPort,
		BastionUser:    h.BastionUser,
	}
}
