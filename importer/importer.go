// Package importer tails the Zeek log directory and turns appended lines into
// typed records. One tailer task runs per watched file; per-file record order
// is preserved into the downstream channels.
package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/importer/zeektypes"
	zlog "github.com/cardeasec/cardea/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const offsetsFileName = "reader_offsets.json"

// watchedLogs pairs each log type with the file the collector writes it to
var watchedLogs = []string{
	"conn.log",
	"dns.log",
	"http.log",
	"ssl.log",
	"notice.log",
	"files.log",
	"weird.log",
}

// Reader owns the tailer tasks for one Zeek log directory and exposes one
// typed output channel per log type.
type Reader struct {
	Cfg          *config.Config
	LogDirectory string
	Stats        *Stats

	Conn   chan zeektypes.Conn
	DNS    chan zeektypes.DNS
	HTTP   chan zeektypes.HTTP
	SSL    chan zeektypes.SSL
	Notice chan zeektypes.Notice
	Files  chan zeektypes.Files
	Weird  chan zeektypes.Weird

	afs         afero.Fs
	offsetsPath string
	offsets     map[string]*atomic.Int64
}

// NewReader discovers the active log directory, restores any offset
// checkpoints from a previous run and sets up the output channels.
func NewReader(afs afero.Fs, cfg *config.Config) (*Reader, error) {
	logDir, err := DiscoverLogDirectory(afs, cfg.Sentry.ZeekLogSearchPath)
	if err != nil {
		return nil, err
	}

	bufSize := int(cfg.Sentry.EventBufferSize)

	reader := &Reader{
		Cfg:          cfg,
		LogDirectory: logDir,
		Stats:        &Stats{},
		Conn:         make(chan zeektypes.Conn, bufSize),
		DNS:          make(chan zeektypes.DNS, bufSize),
		HTTP:         make(chan zeektypes.HTTP, bufSize),
		SSL:          make(chan zeektypes.SSL, bufSize),
		Notice:       make(chan zeektypes.Notice, bufSize),
		Files:        make(chan zeektypes.Files, bufSize),
		Weird:        make(chan zeektypes.Weird, bufSize),
		afs:          afs,
		offsetsPath:  filepath.Join(filepath.Dir(cfg.Sentry.Detector.ModelPath), offsetsFileName),
		offsets:      make(map[string]*atomic.Int64),
	}

	saved := reader.loadOffsets()
	for _, name := range watchedLogs {
		path := filepath.Join(logDir, name)
		offset := &atomic.Int64{}
		offset.Store(saved[path])
		reader.offsets[path] = offset
	}

	return reader, nil
}

// DiscoverLogDirectory selects the first directory in the search path that
// exists and contains at least one .log file. If none qualifies, the first
// entry is created and returned.
func DiscoverLogDirectory(afs afero.Fs, searchPath []string) (string, error) {
	logger := zlog.GetLogger()

	for _, dir := range searchPath {
		isDir, err := afero.IsDir(afs, dir)
		if err != nil || !isDir {
			continue
		}
		entries, err := afero.ReadDir(afs, dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
				logger.Info().Str("directory", dir).Msg("using zeek log directory")
				return dir, nil
			}
		}
	}

	if len(searchPath) == 0 {
		return "", fmt.Errorf("zeek log search path is empty")
	}

	dir := searchPath[0]
	if err := afs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create zeek log directory %s: %w", dir, err)
	}
	logger.Warn().Str("directory", dir).Msg("no existing zeek log directory found, created fallback")
	return dir, nil
}

// Run starts one tailer per watched file and blocks until the context is
// cancelled. Offset checkpoints are flushed on the way out, then all output
// channels are closed so downstream consumers can drain and exit.
func (r *Reader) Run(ctx context.Context) error {
	logger := zlog.GetLogger()
	poll := time.Duration(r.Cfg.Sentry.PollIntervalMillis) * time.Millisecond

	g, gctx := errgroup.WithContext(ctx)

	path := func(name string) string { return filepath.Join(r.LogDirectory, name) }

	connTailer := newTailer(r.afs, path("conn.log"), r.Conn, poll, r.Stats, r.offsets[path("conn.log")])
	dnsTailer := newTailer(r.afs, path("dns.log"), r.DNS, poll, r.Stats, r.offsets[path("dns.log")])
	httpTailer := newTailer(r.afs, path("http.log"), r.HTTP, poll, r.Stats, r.offsets[path("http.log")])
	sslTailer := newTailer(r.afs, path("ssl.log"), r.SSL, poll, r.Stats, r.offsets[path("ssl.log")])
	noticeTailer := newTailer(r.afs, path("notice.log"), r.Notice, poll, r.Stats, r.offsets[path("notice.log")])
	filesTailer := newTailer(r.afs, path("files.log"), r.Files, poll, r.Stats, r.offsets[path("files.log")])
	weirdTailer := newTailer(r.afs, path("weird.log"), r.Weird, poll, r.Stats, r.offsets[path("weird.log")])

	g.Go(func() error { return connTailer.run(gctx) })
	g.Go(func() error { return dnsTailer.run(gctx) })
	g.Go(func() error { return httpTailer.run(gctx) })
	g.Go(func() error { return sslTailer.run(gctx) })
	g.Go(func() error { return noticeTailer.run(gctx) })
	g.Go(func() error { return filesTailer.run(gctx) })
	g.Go(func() error { return weirdTailer.run(gctx) })
	g.Go(func() error {
		r.reportProgress(gctx)
		return nil
	})

	err := g.Wait()

	if flushErr := r.flushOffsets(); flushErr != nil {
		logger.Warn().Err(flushErr).Msg("unable to flush reader offset checkpoints")
	}

	close(r.Conn)
	close(r.DNS)
	close(r.HTTP)
	close(r.SSL)
	close(r.Notice)
	close(r.Files)
	close(r.Weird)

	return err
}

// reportProgress logs reader throughput once a minute until the context ends
func (r *Reader) reportProgress(ctx context.Context) {
	printer := message.NewPrinter(language.English)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := r.Stats.Snapshot()
			logger := zlog.GetLogger()
			logger.Info().
				Str("lines_read", printer.Sprintf("%d", snapshot.LinesRead)).
				Str("records_emitted", printer.Sprintf("%d", snapshot.RecordsEmitted)).
				Str("parse_errors", printer.Sprintf("%d", snapshot.ParseErrors)).
				Msg("reader progress")
		}
	}
}

// loadOffsets restores the per-file byte offsets saved by a previous run.
// A missing or corrupt checkpoint file just means starting from zero.
func (r *Reader) loadOffsets() map[string]int64 {
	saved := make(map[string]int64)

	contents, err := afero.ReadFile(r.afs, r.offsetsPath)
	if err != nil {
		return saved
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(contents, &saved); err != nil {
		logger := zlog.GetLogger()
		logger.Warn().Err(err).Str("path", r.offsetsPath).Msg("ignoring corrupt reader offset checkpoint")
		return make(map[string]int64)
	}
	return saved
}

// flushOffsets writes the current per-file byte offsets with an atomic replace
func (r *Reader) flushOffsets() error {
	saved := make(map[string]int64, len(r.offsets))
	for path, offset := range r.offsets {
		saved[path] = offset.Load()
	}

	contents, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(saved)
	if err != nil {
		return err
	}

	if err := r.afs.MkdirAll(filepath.Dir(r.offsetsPath), 0o755); err != nil {
		return err
	}

	tmpPath := r.offsetsPath + ".tmp"
	if err := afero.WriteFile(r.afs, tmpPath, contents, 0o644); err != nil {
		return err
	}
	return r.afs.Rename(tmpPath, r.offsetsPath)
}
