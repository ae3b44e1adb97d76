package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxEntries = 500
	auditFile  = "audit.txt"
	timeLayout = "Mon Jan 02, 2006 at 15:04:05 GMT"
)

// AuditLog is a capped, file-backed record of privileged commands.
// The file stores the oldest entry first.
type AuditLog struct {
	mu      sync.Mutex
	path    string
	entries []string
	now     func() time.Time
}

// OpenAuditLog loads the audit log kept in dataDir, creating the directory
// if needed. A missing file is an empty log.
func OpenAuditLog(dataDir string) (*AuditLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	a := &AuditLog{path: filepath.Join(dataDir, auditFile), now: time.Now}
	lines, err := readLines(a.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	a.entries = trim(lines)
	return a, nil
}

// Record appends "<time>: <hostmask> -> <command>" and rewrites the file.
func (a *AuditLog) Record(hostmask, command string) error {
	entry := fmt.Sprintf("%s: %s -> %s", a.now().UTC().Format(timeLayout), hostmask, strings.TrimSpace(command))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = trim(append(a.entries, entry))
	if err := writeLines(a.path, a.entries); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (a *AuditLog) Recent(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]string, 0, n)
	for i := len(a.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, a.entries[i])
	}
	return out
}

// Len is the number of entries kept.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// trim keeps the newest maxEntries, which sit at the end.
func trim(entries []string) []string {
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return entries
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(file, line); err != nil {
			return err
		}
	}
	return nil
}
