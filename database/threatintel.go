package database

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cardeasec/cardea/config"
	zlog "github.com/cardeasec/cardea/logger"
	"github.com/cardeasec/cardea/util"
	"github.com/spf13/afero"
)

// feedFetchTimeout bounds one online feed download
const feedFetchTimeout = 30 * time.Second

// suspiciousPatterns flag indicator strings that look like droppers, web
// shells, or script injection.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(exe|scr|bat|ps1|vbs|jar)$`),
	regexp.MustCompile(`(?i)/(cmd|shell|upload|c99|r57)\.(php|asp|aspx|jsp)`),
	regexp.MustCompile(`[<>]`),
}

// ThreatPatterns holds the indicator sets the deterministic scorer checks
type ThreatPatterns struct {
	BadIPs            map[string]bool
	SuspiciousDomains map[string]bool
	Patterns          []*regexp.Regexp
}

// NewThreatPatterns returns an empty pattern set with the built-in regex list
func NewThreatPatterns() *ThreatPatterns {
	return &ThreatPatterns{
		BadIPs:            make(map[string]bool),
		SuspiciousDomains: make(map[string]bool),
		Patterns:          suspiciousPatterns,
	}
}

// MatchesPattern reports whether an indicator matches any regex in the list
func (tp *ThreatPatterns) MatchesPattern(indicator string) bool {
	for _, pattern := range tp.Patterns {
		if pattern.MatchString(indicator) {
			return true
		}
	}
	return false
}

// LoadThreatPatterns reads custom feed files and online feeds into one
// pattern set. Feed entries are one indicator per line: IP addresses populate
// the bad-IP set, FQDNs the suspicious-domain set, anything else is skipped.
// Feed failures degrade to whatever loaded; scoring still runs.
func LoadThreatPatterns(ctx context.Context, afs afero.Fs, cfg *config.Config) *ThreatPatterns {
	logger := zlog.GetLogger()
	patterns := NewThreatPatterns()

	for _, path := range customFeedFiles(afs, cfg.Env.ThreatIntelCustomFeedsDirectory) {
		file, err := afs.Open(path)
		if err != nil {
			logger.Warn().Err(err).Str("feed_path", path).Msg("skipping unreadable threat intel feed")
			continue
		}
		count := patterns.readFeed(file)
		logger.Info().Str("feed_path", path).Int("entries", count).Msg("loaded custom threat intel feed")
	}

	for _, url := range cfg.ThreatIntel.OnlineFeeds {
		body, err := fetchOnlineFeed(ctx, url)
		if err != nil {
			logger.Warn().Err(err).Str("feed_url", url).Msg("skipping unreachable threat intel feed")
			continue
		}
		count := patterns.readFeed(body)
		logger.Info().Str("feed_url", url).Int("entries", count).Msg("loaded online threat intel feed")
	}

	return patterns
}

// customFeedFiles walks the feeds directory for .txt files
func customFeedFiles(afs afero.Fs, dirPath string) []string {
	if dirPath == "" {
		return nil
	}

	feedDir, err := util.ParseRelativePath(dirPath)
	if err != nil {
		return nil
	}
	if err := util.ValidateDirectory(afs, feedDir); err != nil {
		if errors.Is(err, util.ErrDirDoesNotExist) || errors.Is(err, util.ErrDirIsEmpty) {
			return nil
		}
		return nil
	}

	var files []string
	_ = afero.Walk(afs, feedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".txt" {
			files = append(files, path)
		}
		return nil
	})
	return files
}

func fetchOnlineFeed(ctx context.Context, url string) (io.ReadCloser, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelingReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelingReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelingReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

// readFeed parses one feed stream, returning the number of entries loaded
func (tp *ThreatPatterns) readFeed(feed io.ReadCloser) int {
	defer feed.Close()

	count := 0
	scanner := bufio.NewScanner(feed)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "<!--") {
			continue
		}

		if ip, err := netip.ParseAddr(line); err == nil {
			tp.BadIPs[ip.String()] = true
			count++
		} else if util.ValidFQDN(line) {
			tp.SuspiciousDomains[strings.ToLower(line)] = true
			count++
		}
	}
	return count
}
