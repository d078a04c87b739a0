package importer

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	zlog "github.com/cardeasec/cardea/logger"

	"github.com/spf13/afero"
)

const ioErrorBackoff = 2 * time.Second

// Stats tracks reader-wide counters. All fields are updated atomically and
// may be read concurrently via Snapshot.
type Stats struct {
	LinesRead      atomic.Uint64
	RecordsEmitted atomic.Uint64
	ParseErrors    atomic.Uint64
	Rotations      atomic.Uint64
}

type StatsSnapshot struct {
	LinesRead      uint64 `json:"lines_read"`
	RecordsEmitted uint64 `json:"records_emitted"`
	ParseErrors    uint64 `json:"parse_errors"`
	Rotations      uint64 `json:"rotations"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		LinesRead:      s.LinesRead.Load(),
		RecordsEmitted: s.RecordsEmitted.Load(),
		ParseErrors:    s.ParseErrors.Load(),
		Rotations:      s.Rotations.Load(),
	}
}

// tailer polls a single log file, reading appended content from a remembered
// byte offset and emitting parsed records on its output channel.
type tailer[Z zeekRecord] struct {
	afs     afero.Fs
	path    string
	parser  *lineParser[Z]
	out     chan<- Z
	poll    time.Duration
	stats   *Stats
	offset  *atomic.Int64
	partial []byte
}

func newTailer[Z zeekRecord](afs afero.Fs, path string, out chan<- Z, poll time.Duration, stats *Stats, offset *atomic.Int64) *tailer[Z] {
	return &tailer[Z]{
		afs:    afs,
		path:   path,
		parser: newLineParser[Z](path),
		out:    out,
		poll:   poll,
		stats:  stats,
		offset: offset,
	}
}

// run polls the file until the context is cancelled. It never returns a
// parse failure; malformed input is counted and dropped.
func (t *tailer[Z]) run(ctx context.Context) error {
	logger := zlog.GetLogger()

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := t.tick(ctx); err != nil {
			logger.Warn().Err(err).Str("path", t.path).Msg("log tail i/o error, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(ioErrorBackoff):
			}
		}
	}
}

// tick reads any new content appended since the last poll
func (t *tailer[Z]) tick(ctx context.Context) error {
	logger := zlog.GetLogger()

	info, err := t.afs.Stat(t.path)
	if err != nil {
		// the file not existing yet is expected during startup
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	size := info.Size()
	offset := t.offset.Load()

	// a shrinking file means it was rotated out from under us
	if size < offset {
		logger.Info().Str("path", t.path).Int64("old_offset", offset).Int64("new_size", size).Msg("log file rotated, resetting offset")
		t.stats.Rotations.Add(1)
		t.offset.Store(0)
		t.parser.Reset()
		t.partial = nil
		offset = 0
	}

	if size == offset {
		return nil
	}

	file, err := t.afs.Open(t.path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	chunk, err := io.ReadAll(io.LimitReader(file, size-offset))
	if err != nil {
		return err
	}
	t.offset.Store(offset + int64(len(chunk)))

	// carry any incomplete trailing line into the next poll
	if len(t.partial) > 0 {
		chunk = append(t.partial, chunk...)
		t.partial = nil
	}

	lines := bytes.Split(chunk, []byte{'\n'})
	if len(lines) > 0 && len(lines[len(lines)-1]) > 0 {
		t.partial = append([]byte(nil), lines[len(lines)-1]...)
		lines = lines[:len(lines)-1]
	}

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		t.stats.LinesRead.Add(1)

		record, ok, err := t.parser.ParseLine(line)
		if err != nil {
			t.stats.ParseErrors.Add(1)
			logger.Debug().Err(err).Str("path", t.path).Msg("dropped unparseable log line")
			continue
		}
		if !ok {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case t.out <- record:
			t.stats.RecordsEmitted.Add(1)
		}
	}

	return nil
}
