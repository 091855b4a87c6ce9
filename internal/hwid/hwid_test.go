package hwid

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeSource(files map[string]string, mac string) Source {
	return Source{
		ReadFile: func(name string) ([]byte, error) {
			if v, ok := files[name]; ok {
				return []byte(v), nil
			}
			return nil, os.ErrNotExist
		},
		Interfaces: func() ([]net.Interface, error) {
			hw, err := net.ParseMAC(mac)
			if err != nil {
				return nil, err
			}
			return []net.Interface{
				{Name: "lo", Flags: net.FlagLoopback},
				{Name: "eth0", HardwareAddr: hw},
			}, nil
		},
		Hostname: func() (string, error) { return "trader-box", nil },
		OS:       "linux",
		Arch:     "amd64",
	}
}

func TestSourceInfo(t *testing.T) {
	p := fakeSource(map[string]string{
		"/proc/cpuinfo":   "processor\t: 0\nmodel name\t: Intel(R) Xeon(R)\n",
		"/etc/machine-id": "abc123\n",
	}, "aa:bb:cc:dd:ee:ff")

	info := p.Info()
	assert.Equal(t, "Intel(R) Xeon(R)", info.CPU)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", info.MAC)
	assert.Equal(t, "abc123", info.MachineID)
	assert.Equal(t, "trader-box", info.Hostname)
	assert.Len(t, info.HardwareID, 64)

	// Deterministic for the same host.
	assert.Equal(t, info.HardwareID, p.Info().HardwareID)
}

func TestSourceInfo_ChangesWithHardware(t *testing.T) {
	files := map[string]string{"/etc/machine-id": "abc123"}
	a := fakeSource(files, "aa:bb:cc:dd:ee:ff").Info()
	b := fakeSource(files, "aa:bb:cc:dd:ee:00").Info()
	assert.NotEqual(t, a.HardwareID, b.HardwareID)
}

func TestSourceInfo_Fallbacks(t *testing.T) {
	p := fakeSource(map[string]string{"/var/lib/dbus/machine-id": "dbus-id"}, "aa:bb:cc:dd:ee:ff")
	p.Interfaces = func() ([]net.Interface, error) { return nil, errors.New("no interfaces") }

	info := p.Info()
	assert.Equal(t, "amd64", info.CPU)
	assert.Equal(t, "00:00:00:00:00:00", info.MAC)
	assert.Equal(t, "dbus-id", info.MachineID)

	p.ReadFile = func(string) ([]byte, error) { return nil, os.ErrNotExist }
	assert.Equal(t, "trader-box", p.Info().MachineID)
}

func TestGenerate(t *testing.T) {
	assert.Len(t, Generate(), 64)
	assert.Equal(t, Generate(), Generate())
}
