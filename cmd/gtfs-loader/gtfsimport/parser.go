// Package gtfsimport reads a GTFS static feed directory plus an
// intersections file, derives the segment graph by splitting each
// route's shape at stops and nearby intersections, and returns the
// result; cmd/gtfs-loader writes it, through internal/schedule's
// importer, into the versioned SQLite tables internal/schedule.Load reads.
package gtfsimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// fileParser reads one GTFS CSV file a row at a time, looking columns
// up by header name rather than position.
type fileParser struct {
	filename string
	line     int
	reader   *csv.Reader
	headers  []string
	record   []string
}

func openFileParser(dir, filename string) (*fileParser, func() error, error) {
	f, err := os.Open(dir + "/" + filename)
	if err != nil {
		return nil, nil, err
	}
	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}
	removeBOMIfPresent(headers)
	return &fileParser{filename: filename, line: 1, reader: reader, headers: headers}, f.Close, nil
}

func removeBOMIfPresent(headers []string) {
	if len(headers) == 0 || len(headers[0]) == 0 {
		return
	}
	runes := []rune(headers[0])
	if runes[0] == '﻿' {
		headers[0] = string(runes[1:])
	}
}

// next advances to the following row, returning io.EOF once exhausted.
func (p *fileParser) next() error {
	record, err := p.reader.Read()
	if err != nil {
		return err
	}
	p.record = record
	p.line++
	return nil
}

func (p *fileParser) indexOf(name string) int {
	for i, h := range p.headers {
		if h == name {
			return i
		}
	}
	return -1
}

func (p *fileParser) getString(name string) (string, error) {
	i := p.indexOf(name)
	if i < 0 || i >= len(p.record) {
		return "", fmt.Errorf("%s line %d: missing column %s", p.filename, p.line, name)
	}
	return p.record[i], nil
}

func (p *fileParser) getStringOptional(name string) string {
	i := p.indexOf(name)
	if i < 0 || i >= len(p.record) {
		return ""
	}
	return p.record[i]
}

func (p *fileParser) getFloat64(name string) (float64, error) {
	s, err := p.getString(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s line %d: column %s: %w", p.filename, p.line, name, err)
	}
	return v, nil
}

func (p *fileParser) getFloat64Optional(name string) (float64, bool) {
	s := p.getStringOptional(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p *fileParser) getInt(name string) (int, error) {
	s, err := p.getString(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s line %d: column %s: %w", p.filename, p.line, name, err)
	}
	return v, nil
}

// getGTFSTime parses a GTFS HH:MM:SS time-of-day (hours may exceed 24)
// into seconds since midnight of the service day.
func (p *fileParser) getGTFSTime(name string) (int, error) {
	s, err := p.getString(name)
	if err != nil {
		return 0, err
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("%s line %d: column %s: bad GTFS time %q", p.filename, p.line, name, s)
	}
	return h*3600 + m*60 + sec, nil
}

// eachRow calls fn for every remaining row in the file, stopping at EOF.
func eachRow(p *fileParser, fn func(*fileParser) error) error {
	for {
		if err := p.next(); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(p); err != nil {
			return fmt.Errorf("%s line %d: %w", p.filename, p.line, err)
		}
	}
}
