//go:build linux

package printer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
)

const rfcommWait = 15 * time.Second

// RFCOMMConnection owns a running `rfcomm connect` process
type RFCOMMConnection struct {
	DevicePath string
	MAC        string
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	mu         sync.Mutex
}

// ListPairedBluetoothDevices asks bluetoothctl for paired devices
func ListPairedBluetoothDevices() ([]BluetoothDevice, error) {
	out, err := exec.Command("bluetoothctl", "devices", "Paired").Output()
	if err != nil {
		return nil, errors.Annotate(err, "list paired devices")
	}
	return parsePairedDevices(string(out)), nil
}

// parsePairedDevices reads "Device XX:XX:XX:XX:XX:XX Name" lines
func parsePairedDevices(out string) []BluetoothDevice {
	var devices []BluetoothDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(line, "Device "), " ", 2)
		if len(parts) == 2 {
			devices = append(devices, BluetoothDevice{MAC: parts[0], Name: parts[1]})
		}
	}
	return devices
}

// findFreeRFCOMMDevice returns the first unbound /dev/rfcommN
func findFreeRFCOMMDevice() (string, int, error) {
	for i := 0; i < 10; i++ {
		devPath := fmt.Sprintf("/dev/rfcomm%d", i)
		out, _ := exec.Command("rfcomm", "show", devPath).Output()
		if len(out) == 0 || strings.Contains(string(out), "No such device") {
			return devPath, i, nil
		}
	}
	return "", -1, errors.New("no available RFCOMM device slots")
}

func privilegeHelper() string {
	// pkexec first, it works from a desktop session
	if _, err := exec.LookPath("pkexec"); err == nil {
		return "pkexec"
	}
	if _, err := exec.LookPath("sudo"); err == nil {
		return "sudo"
	}
	return ""
}

func privileged(ctx context.Context, helper string, args ...string) *exec.Cmd {
	if helper == "pkexec" {
		return exec.CommandContext(ctx, "pkexec", append([]string{"rfcomm"}, args...)...)
	}
	return exec.CommandContext(ctx, "sudo", append([]string{"-n", "rfcomm"}, args...)...)
}

// EstablishRFCOMM runs `rfcomm connect` in the background and returns
// once the device node appears
func EstablishRFCOMM(ctx context.Context, mac string, channel int, status func(string)) (*RFCOMMConnection, error) {
	if _, err := exec.LookPath("rfcomm"); err != nil {
		return nil, errors.NotFoundf("rfcomm (install bluez)")
	}
	devPath, devNum, err := findFreeRFCOMMDevice()
	if err != nil {
		return nil, err
	}
	helper := privilegeHelper()
	if helper == "" {
		return nil, ErrPrivilegeRequired
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := privileged(procCtx, helper, "connect", fmt.Sprintf("/dev/rfcomm%d", devNum), mac, fmt.Sprintf("%d", channel))
	conn := &RFCOMMConnection{DevicePath: devPath, MAC: mac, cmd: cmd, cancel: cancel}

	stderr, _ := cmd.StderrPipe()
	stdout, _ := cmd.StdoutPipe()
	status(fmt.Sprintf("connecting to %s", mac))
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Annotate(err, "start rfcomm")
	}
	go forwardLines(stdout, status)
	go forwardLines(stderr, status)

	deadline := time.NewTimer(rfcommWait)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ErrConnectionCanceled
		case <-deadline.C:
			conn.Close()
			return nil, errors.Annotatef(ErrRFCOMMFailed, "timeout waiting for %s", devPath)
		case <-tick.C:
			if _, err := os.Stat(devPath); err == nil {
				status("connected: " + devPath)
				return conn, nil
			}
		}
	}
}

func forwardLines(r io.Reader, status func(string)) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		status(scanner.Text())
	}
}

// Close stops the rfcomm process and releases the device node
func (c *RFCOMMConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.DevicePath != "" {
		if helper := privilegeHelper(); helper != "" {
			privileged(context.Background(), helper, "release", c.DevicePath).Run()
		}
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
		c.cmd = nil
	}
	return nil
}

// ExistingRFCOMMDevices lists bound /dev/rfcommN nodes
func ExistingRFCOMMDevices() ([]string, error) {
	out, err := exec.Command("rfcomm", "-a").Output()
	if err != nil {
		var devices []string
		for i := 0; i < 10; i++ {
			devPath := fmt.Sprintf("/dev/rfcomm%d", i)
			if _, err := os.Stat(devPath); err == nil {
				devices = append(devices, devPath)
			}
		}
		return devices, nil
	}

	var devices []string
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "rfcomm") {
			continue
		}
		if parts := strings.Fields(line); len(parts) > 0 {
			devices = append(devices, filepath.Join("/dev", strings.TrimSuffix(parts[0], ":")))
		}
	}
	return devices, nil
}
