// Package cloudinit builds NoCloud seed images for VMs created from cloud
// images.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/hearth/internal/errdefs"
)

// Config is everything a seed image carries for one VM.
type Config struct {
	// InstanceID changes only when the VM is recreated, so cloud-init runs
	// once per instance.
	InstanceID string
	Hostname   string
	// SSHAuthorizedKeys are installed for the image's default user.
	SSHAuthorizedKeys []string
	// PasswordHash, when set, becomes the root password (crypt(3) format).
	PasswordHash string
	// MACs are the VM's interface MACs in device order. Each gets DHCP.
	MACs []string
}

// Validate checks the fields every seed image needs.
func (c *Config) Validate() error {
	if c == nil {
		return errdefs.InvalidArgument("cloud-init config cannot be nil")
	}
	if c.InstanceID == "" {
		return errdefs.InvalidArgument("cloud-init instance id is required")
	}
	if c.Hostname == "" {
		return errdefs.InvalidArgument("cloud-init hostname is required")
	}
	if len(c.MACs) == 0 {
		return errdefs.InvalidArgument("at least one network interface is required")
	}
	return nil
}

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string    `yaml:"hostname"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"`
	List   string `yaml:"list"` // "username:hash"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures one interface. Addresses come from the libvirt
// network's DHCP server.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// Hostname turns a VM display name into a valid hostname label: lower
// case, runs of anything but letters and digits collapsed to "-".
func Hostname(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	host := strings.TrimSuffix(b.String(), "-")
	if len(host) > 63 {
		host = strings.TrimSuffix(host[:63], "-")
	}
	return host
}

// GenerateUserData generates the user-data YAML content.
//
// Returns the complete user-data file content including the "#cloud-config" header.
func GenerateUserData(cfg *Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	userData := UserData{
		Hostname:          cfg.Hostname,
		SSHAuthorizedKeys: cfg.SSHAuthorizedKeys,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}
	if cfg.PasswordHash != "" {
		userData.Chpasswd = &Chpasswd{
			Expire: false,
			List:   fmt.Sprintf("root:%s", cfg.PasswordHash),
		}
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// the header is required for cloud-init to treat the file as cloud-config
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content.
func GenerateMetaData(cfg *Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	yamlBytes, err := yaml.Marshal(&MetaData{
		InstanceID:    cfg.InstanceID,
		LocalHostname: cfg.Hostname,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates the network-config YAML content with one
// DHCP ethernet per MAC.
func GenerateNetworkConfig(cfg *Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig, len(cfg.MACs)),
	}
	for i, mac := range cfg.MACs {
		networkConfig.Ethernets[fmt.Sprintf("eth%d", i)] = EthernetConfig{
			Match: MatchConfig{MACAddress: mac},
			DHCP4: true,
		}
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlBytes), nil
}
