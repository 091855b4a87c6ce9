// Package hwid derives a stable fingerprint of the host for license binding.
package hwid

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// Info lists the identifiers the fingerprint is built from.
type Info struct {
	CPU        string `json:"cpu_id"`
	MAC        string `json:"mac_address"`
	MachineID  string `json:"machine_id"`
	OS         string `json:"system"`
	Arch       string `json:"machine"`
	Hostname   string `json:"node"`
	HardwareID string `json:"hardware_id"`
}

// Source reads host identifiers; fields are swappable in tests.
type Source struct {
	ReadFile   func(name string) ([]byte, error)
	Interfaces func() ([]net.Interface, error)
	Hostname   func() (string, error)
	OS, Arch   string
}

// Host reads from the running machine.
func Host() Source {
	return Source{ReadFile: os.ReadFile, Interfaces: net.Interfaces, Hostname: os.Hostname, OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// Generate returns the hardware id of the running machine.
func Generate() string {
	return Host().Info().HardwareID
}

// Info collects the identifiers and the resulting hardware id.
func (p Source) Info() Info {
	info := Info{
		CPU:       p.cpuID(),
		MAC:       p.macAddress(),
		MachineID: p.machineID(),
		OS:        p.OS,
		Arch:      p.Arch,
	}
	if host, err := p.Hostname(); err == nil {
		info.Hostname = host
	}
	combined := fmt.Sprintf("%s|%s|%s|%s-%s", info.CPU, info.MAC, info.MachineID, info.OS, info.Arch)
	sum := sha256.Sum256([]byte(combined))
	info.HardwareID = hex.EncodeToString(sum[:])
	return info
}

func (p Source) cpuID() string {
	if data, err := p.ReadFile("/proc/cpuinfo"); err == nil {
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "Serial") || strings.HasPrefix(line, "model name") {
				if _, v, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v)
				}
			}
		}
	}
	return p.Arch
}

// macAddress returns the first hardware address of a non-loopback interface.
func (p Source) macAddress() string {
	ifaces, err := p.Interfaces()
	if err != nil {
		return "00:00:00:00:00:00"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String())
	}
	return "00:00:00:00:00:00"
}

func (p Source) machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := p.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	if host, err := p.Hostname(); err == nil {
		return host
	}
	return "UNKNOWN_MACHINE"
}
