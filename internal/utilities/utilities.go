package utilities

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const framePrefix = "FRAMES"

// FrameLog appends raw frames to one file per day under dir.
type FrameLog struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func NewFrameLog(dir string) (*FrameLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("frame log dir %s: %w", dir, err)
	}
	return &FrameLog{dir: dir, now: time.Now}, nil
}

// Path returns the file a line written at t goes to.
func (f *FrameLog) Path(t time.Time) string {
	return filepath.Join(f.dir, framePrefix+"_"+t.Format("20060102")+".log")
}

// Write records one frame as "hh:mm:ss - <device> <hex>".
func (f *FrameLog) Write(deviceID string, frame []byte) error {
	t := f.now()
	line := t.Format("15:04:05") + " - " + deviceID + " " + hex.EncodeToString(frame) + "\n"

	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.Path(t), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.WriteString(line)
	return err
}
