package driver

import (
	"bytes"
	"fmt"
	"os"

	"hepir/pir"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// RecordsFromFile splits the contents of path into rowLen-byte records. A short last
// record is zero-padded.
func RecordsFromFile(path string, rowLen int) ([]pir.Row, error) {
	if rowLen < 1 {
		return nil, fmt.Errorf("invalid row length %d", rowLen)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("database file %s is empty", path)
	}
	return splitRecords(data, rowLen), nil
}

func splitRecords(data []byte, rowLen int) []pir.Row {
	numRows := (len(data) + rowLen - 1) / rowLen
	flat := make([]byte, numRows*rowLen)
	copy(flat, data)
	rows := make([]pir.Row, numRows)
	for i := range rows {
		rows[i] = flat[i*rowLen : (i+1)*rowLen]
	}
	return rows
}

// DBWatcher serves the records of a file and reloads them whenever it is written.
type DBWatcher struct {
	databaseFile string
	rowLen       int
	driver       *serverDriver
	watcher      *fsnotify.Watcher

	// Contents last loaded, so repeated write events do not re-encode.
	loaded []byte
}

// NewDBWatcher loads databaseFile into a configured driver and keeps it in sync with
// the file.
func NewDBWatcher(driver *serverDriver, databaseFile string, rowLen int) (*DBWatcher, error) {
	if rowLen < 1 {
		return nil, fmt.Errorf("invalid row length %d", rowLen)
	}
	w := &DBWatcher{databaseFile: databaseFile, rowLen: rowLen, driver: driver}
	if err := w.update(); err != nil {
		return nil, err
	}

	var err error
	if w.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("cannot create watcher: %w", err)
	}
	if err := w.watcher.Add(databaseFile); err != nil {
		w.watcher.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", databaseFile, err)
	}

	// Reload whenever the database file changes
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				log.Debugf("event: %v", event)
				if event.Op&fsnotify.Write == fsnotify.Write {
					if err := w.update(); err != nil {
						log.Warnf("Cannot reload %s, this may happen while it is being written: %v", databaseFile, err)
					}
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Watching %s: %v", databaseFile, err)
			}
		}
	}()
	return w, nil
}

func (w *DBWatcher) update() error {
	data, err := os.ReadFile(w.databaseFile)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("database file %s is empty", w.databaseFile)
	}
	if bytes.Equal(data, w.loaded) {
		return nil
	}
	if err := w.driver.LoadRows(splitRecords(data, w.rowLen)); err != nil {
		return err
	}
	w.loaded = data
	return nil
}

func (w *DBWatcher) Close() error {
	return w.watcher.Close()
}
