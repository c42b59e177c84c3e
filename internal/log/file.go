package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// logFilePattern matches the YYYY-MM-DD.jsonl filenames FileWriter produces.
var logFilePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// FileWriter is an io.Writer that rotates to a new dir/YYYY-MM-DD.jsonl file
// at midnight and keeps a "latest" symlink pointing at whichever file is
// currently open, so a tail -f on the symlink survives the rotation.
type FileWriter struct {
	dir string

	mu       sync.Mutex
	f        *os.File
	openedOn string
}

// NewFileWriter opens (creating dir if needed) today's log file.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &FileWriter{dir: dir}
	if err := fw.rotate(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if today := time.Now().Format("2006-01-02"); today != fw.openedOn {
		if err := fw.rotate(); err != nil {
			return 0, err
		}
	}
	return fw.f.Write(p)
}

// Close closes the currently open file, if any.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.f == nil {
		return nil
	}
	return fw.f.Close()
}

// rotate opens today's file, closing whatever was previously open, and
// repoints the "latest" symlink at it. Callers must hold fw.mu, except
// NewFileWriter's initial call before fw is shared.
func (fw *FileWriter) rotate() error {
	if fw.f != nil {
		fw.f.Close()
	}

	today := time.Now().Format("2006-01-02")
	name := today + ".jsonl"
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	fw.f = f
	fw.openedOn = today

	fw.relink(name)
	return nil
}

// relink best-effort repoints dir/latest at target via a rename-over-temp so
// a concurrent reader never sees a missing symlink.
func (fw *FileWriter) relink(target string) {
	link := filepath.Join(fw.dir, "latest")
	tmp := link + ".tmp"

	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return
	}
	os.Rename(tmp, link)
}

// Cleanup removes dir's rotated log files whose date is older than
// retentionDays. Anything not matching logFilePattern (including the
// "latest" symlink itself) is left alone.
func Cleanup(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !logFilePattern.MatchString(name) {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", name[:10])
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}
