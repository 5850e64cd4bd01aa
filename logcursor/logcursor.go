// Package logcursor implements the log-follower cursor file described in
// spec.md §6: one small file per followed log containing
// "<last_size>:<last_inode>", with rotated-file detection (inode change
// or shrink implies rewind to zero) — scenario S6.
//
// Grounded on original_source/tensor/logs/follower.py (LogFollower).
package logcursor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Cursor tracks read position in one log file across agent restarts.
type Cursor struct {
	logPath    string
	cursorPath string
	history    bool

	lastSize  int64
	lastInode uint64
}

// Open loads (or initializes) the cursor for logPath. cursorDir is where
// the small "<escaped-path>.lf" bookkeeping file lives (the original's
// tmp_path, default /var/lib/tensor/). If history is true and no cursor
// file exists yet, reading starts from byte 0 instead of the current end
// of file (i.e. replay everything already in the log).
func Open(logPath, cursorDir string, history bool) (*Cursor, error) {
	escaped := strings.ReplaceAll(strings.TrimPrefix(logPath, "/"), "/", "-")
	c := &Cursor{
		logPath:    logPath,
		cursorPath: filepath.Join(cursorDir, escaped+".lf"),
		history:    history,
	}
	if err := c.readLast(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) readLast() error {
	data, err := os.ReadFile(c.cursorPath)
	if err == nil {
		parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("logcursor: malformed cursor file %s", c.cursorPath)
		}
		size, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return err
		}
		inode, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return err
		}
		c.lastSize, c.lastInode = size, inode
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	if c.history {
		c.lastSize, c.lastInode = 0, 0
		return nil
	}

	stat, err := os.Stat(c.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.lastSize = stat.Size()
	c.lastInode = inodeOf(stat)
	return nil
}

func (c *Cursor) storeLast() error {
	data := fmt.Sprintf("%d:%d", c.lastSize, c.lastInode)
	return os.WriteFile(c.cursorPath, []byte(data), 0644)
}

// ReadNewLines returns every complete line appended to the log file since
// the last call, handling rotation (inode change or file shrink implies a
// rewind to byte 0, per spec.md S6) and persisting the new cursor.
func (c *Cursor) ReadNewLines() ([]string, error) {
	stat, err := os.Stat(c.logPath)
	if err != nil {
		return nil, err
	}
	inode := inodeOf(stat)

	if inode == c.lastInode && stat.Size() == c.lastSize {
		return nil, nil
	}

	if inode != c.lastInode || stat.Size() < c.lastSize {
		c.lastSize = 0
	}
	c.lastInode = inode

	f, err := os.Open(c.logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(c.lastSize, 0); err != nil {
		return nil, err
	}

	var lines []string
	var buf strings.Builder
	chunk := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(chunk)
		for i := 0; i < n; i++ {
			b := chunk[i]
			if b == '\n' {
				lines = append(lines, buf.String())
				c.lastSize += int64(buf.Len()) + 1
				buf.Reset()
			} else {
				buf.WriteByte(b)
			}
		}
		if rerr != nil {
			break
		}
	}

	if err := c.storeLast(); err != nil {
		return lines, err
	}
	return lines, nil
}

func inodeOf(stat os.FileInfo) uint64 {
	if sys, ok := stat.Sys().(*syscall.Stat_t); ok {
		return sys.Ino
	}
	return 0
}
