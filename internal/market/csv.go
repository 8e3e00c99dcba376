package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CSVSource serves prices from files holding timestamp (epoch seconds) and
// close columns. Path may be a file or a directory with one <ASSET>.csv per
// asset.
type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

func (c *CSVSource) HistoricalPrices(ctx context.Context, asset string, start, end time.Time, interval time.Duration) (PriceSeries, error) {
	series, err := ReadCSVFile(c.file(asset))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return series.Between(start, end).Resample(interval), nil
}

func (c *CSVSource) RecentPrices(ctx context.Context, asset string, lookback int, interval time.Duration) (PriceSeries, error) {
	series, err := c.HistoricalPrices(ctx, asset, time.Time{}, time.Time{}, interval)
	if err != nil {
		return nil, err
	}
	return series.Tail(lookback), nil
}

func (c *CSVSource) file(asset string) string {
	info, err := os.Stat(c.Path)
	if err == nil && info.IsDir() {
		return filepath.Join(c.Path, strings.ToUpper(asset)+".csv")
	}
	return c.Path
}

func ReadCSVFile(path string) (PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	series, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return series, nil
}

// ReadCSV parses rows by header name; extra columns are ignored. Rows are
// sorted and de-duplicated by timestamp, the last row winning.
func ReadCSV(r io.Reader) (PriceSeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, err
	}
	tsCol, closeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp":
			tsCol = i
		case "close":
			closeCol = i
		}
	}
	if tsCol < 0 || closeCol < 0 {
		return nil, errors.New("csv requires timestamp and close columns")
	}
	byTime := make(map[int64]float64)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if tsCol >= len(record) || closeCol >= len(record) {
			return nil, fmt.Errorf("line %d: missing columns", line)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(record[tsCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}
		closePrice, err := strconv.ParseFloat(strings.TrimSpace(record[closeCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: close: %w", line, err)
		}
		byTime[ts] = closePrice
	}
	keys := make([]int64, 0, len(byTime))
	for ts := range byTime {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	series := make(PriceSeries, len(keys))
	for i, ts := range keys {
		series[i] = Point{Time: time.Unix(ts, 0).UTC(), Close: byTime[ts]}
	}
	return series, nil
}

func WriteCSV(w io.Writer, series PriceSeries) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "close"}); err != nil {
		return err
	}
	for _, p := range series {
		row := []string{
			strconv.FormatInt(p.Time.Unix(), 10),
			strconv.FormatFloat(p.Close, 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteCSVFile(path string, series PriceSeries) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, series); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
