package verifier

import (
	"os"
	"strings"
)

// machineIDPaths lists the conventional locations of a host's stable
// 128-bit identifier, most Linux distributions first.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// HostMachineID reads this host's machine-id from the OS-conventional
// location. The engine treats the result as an opaque identifier; it is
// never parsed or validated beyond trimming whitespace. Returns "" if no
// machine-id file is present (e.g. non-Linux hosts), in which case any
// machine-bound license fails WrongMachine rather than silently passing.
func HostMachineID() string {
	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}
	return ""
}
