package config

import (
	"encoding/json"
	"fmt"
	"os"

	"quicinterop/internal/execution"
)

// Testbed describes the machines of a multi-host run.
//
//	{
//	  "server": {"host": "s1", "ip": "10.0.0.1", "ipv6": "fd00::1",
//	             "interface": {"name": "eth1", "pci_id": "0000:01:00.0", "mac": "aa:bb:cc:dd:ee:ff"}},
//	  "client": {"host": "c1", "ip": "10.0.0.2", "interface": {"name": "eth1"}},
//	  "sniffer": {"host": "m1"}
//	}
type Testbed struct {
	Server  HostSpec  `json:"server" yaml:"server"`
	Client  HostSpec  `json:"client" yaml:"client"`
	Sniffer *HostSpec `json:"sniffer,omitempty" yaml:"sniffer,omitempty"`
	// NodeImage names the system image of the hosts, for the result document
	NodeImage string `json:"node_image,omitempty" yaml:"node_image,omitempty"`
}

// HostSpec is one testbed machine.
type HostSpec struct {
	Host      string        `json:"host" yaml:"host"`
	IP        string        `json:"ip,omitempty" yaml:"ip,omitempty"`
	IPv6      string        `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	Interface InterfaceSpec `json:"interface,omitempty" yaml:"interface,omitempty"`
}

// InterfaceSpec is the test network interface of a machine.
type InterfaceSpec struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	PCIID string `json:"pci_id,omitempty" yaml:"pci_id,omitempty"`
	MAC   string `json:"mac,omitempty" yaml:"mac,omitempty"`
}

// LoadTestbed reads and checks a testbed file.
func LoadTestbed(path string) (*Testbed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read testbed %s: %w", path, err)
	}
	var tb Testbed
	if err := json.Unmarshal(data, &tb); err != nil {
		return nil, fmt.Errorf("failed to parse testbed %s: %w", path, err)
	}
	if tb.Server.Host == "" || tb.Client.Host == "" {
		return nil, fmt.Errorf("testbed %s: server and client hosts are required", path)
	}
	if tb.Server.IP == "" {
		return nil, fmt.Errorf("testbed %s: server ip is required", path)
	}
	return &tb, nil
}

func (h HostSpec) info() execution.HostInfo {
	return execution.HostInfo{
		Name:      h.Host,
		Interface: h.Interface.Name,
		IP:        h.IP,
		IPv6:      h.IPv6,
		PCIID:     h.Interface.PCIID,
		MAC:       h.Interface.MAC,
	}
}

// Hosts maps the testbed onto execution hosts.
func (t *Testbed) Hosts() map[execution.Host]execution.HostInfo {
	hosts := map[execution.Host]execution.HostInfo{
		execution.HostServer: t.Server.info(),
		execution.HostClient: t.Client.info(),
	}
	if t.Sniffer != nil && t.Sniffer.Host != "" {
		hosts[execution.HostSniffer] = t.Sniffer.info()
	}
	return hosts
}
