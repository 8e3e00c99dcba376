// Package tradelog appends executed trades to one CSV file per UTC day.
package tradelog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var header = []string{"symbol", "side", "price", "quantity", "timestamp"}

type Record struct {
	Symbol   string
	Side     string
	Price    float64
	Quantity float64
	Time     time.Time
}

// Log writes <dir>/<YYYY-MM-DD>.csv with a header line on first write.
type Log struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Log {
	return &Log{dir: dir}
}

// Path returns the file a record at t goes to.
func (l *Log) Path(t time.Time) string {
	return filepath.Join(l.dir, t.UTC().Format("2006-01-02")+".csv")
}

func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	path := l.Path(rec.Time)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return err
		}
	}
	row := []string{
		rec.Symbol,
		rec.Side,
		strconv.FormatFloat(rec.Price, 'f', -1, 64),
		strconv.FormatFloat(rec.Quantity, 'f', -1, 64),
		rec.Time.UTC().Format(time.RFC3339),
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
