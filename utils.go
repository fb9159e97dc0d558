package indexerlib

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

func (l *Loader) listenForShutdown() {
	l.cancelFuncs = make([]context.CancelFunc, 0)
	l.shuttingDown = make(chan bool)
	go func() {
		<-l.shuttingDown
		l.mu.Lock()
		cancelFuncs := l.cancelFuncs
		l.cancelFuncs = nil
		l.mu.Unlock()
		for _, cancel := range cancelFuncs {
			cancel()
		}
	}()
}

func (l *Loader) contextWithShutdownCancel() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancelFuncs = append(l.cancelFuncs, cancel)
	l.mu.Unlock()
	return ctx, cancel
}

// sleep waits for d unless ctx ends first.
func (l *Loader) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.after(d):
		return nil
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	tmp, err := ioutil.TempFile(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to sync %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	return errors.Wrapf(os.Rename(tmpName, path), "failed to move config into %s", path)
}
