package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFilename = "mallard.pid"

// WritePID writes the current process ID to dataDir/mallard.pid.
func WritePID(dataDir string) error {
	path := pidPath(dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("daemon: creating data directory for PID file: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("daemon: writing PID file %s: %w", path, err)
	}
	return nil
}

// ReadPID reads the PID from dataDir/mallard.pid.
func ReadPID(dataDir string) (int, error) {
	path := pidPath(dataDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("daemon: reading PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("daemon: parsing PID from %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID removes the PID file from dataDir.
func RemovePID(dataDir string) error {
	path := pidPath(dataDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: removing PID file %s: %w", path, err)
	}
	return nil
}

// IsRunning checks whether the PID file exists and names a live process.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	if err != nil {
		return false
	}
	return isProcessAlive(pid)
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, pidFilename)
}
