package logging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const retentionInterval = time.Minute

// retention keeps the total size of rotated log files in dir under limit bytes.
// The active log file is never removed.
type retention struct {
	dir    string
	limit  int64
	active string
	cancel context.CancelFunc
}

func newRetention(dir string, limit int64, active string) *retention {
	return &retention{dir: filepath.Clean(dir), limit: limit, active: filepath.Clean(active)}
}

func (r *retention) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()
		for {
			r.run()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (r *retention) stop() {
	if r != nil && r.cancel != nil {
		r.cancel()
	}
}

func (r *retention) run() {
	removed, err := r.prune()
	if err != nil {
		log.WithError(err).Warn("logging: log retention failed")
		return
	}
	if removed > 0 {
		log.Debugf("logging: removed %d rotated log file(s) from %s", removed, r.dir)
	}
}

type rotatedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// prune removes the oldest log files until the directory fits the limit.
func (r *retention) prune() (int, error) {
	files, total, err := r.scan()
	if err != nil || total <= r.limit {
		return 0, err
	}
	slices.SortFunc(files, func(a, b rotatedFile) int { return a.modTime.Compare(b.modTime) })

	removed := 0
	for _, f := range files {
		if total <= r.limit {
			break
		}
		if f.path == r.active {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: cannot remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

func (r *retention) scan() ([]rotatedFile, int64, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var (
		files []rotatedFile
		total int64
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || !isLogFile(e.Name()) {
			continue
		}
		info, errInfo := e.Info()
		if errInfo != nil {
			continue
		}
		files = append(files, rotatedFile{path: filepath.Join(r.dir, e.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	return files, total, nil
}

// isLogFile matches the active log and lumberjack backups, compressed or not.
func isLogFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.gz")
}
