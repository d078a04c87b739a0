package database

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cardeasec/cardea/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoadThreatPatternsFromCustomFeeds(t *testing.T) {
	afs := afero.NewMemMapFs()
	require.NoError(t, afs.MkdirAll("/feeds", 0o755))
	feed := "# comment line\n// another comment\n198.51.100.7\nevil.example.com\nnot a valid entry\n2001:db8::bad\n"
	require.NoError(t, afero.WriteFile(afs, "/feeds/bad.txt", []byte(feed), 0o644))
	require.NoError(t, afero.WriteFile(afs, "/feeds/ignored.csv", []byte("203.0.113.1\n"), 0o644))

	cfg := config.GetDefaultConfig()
	cfg.Env.ThreatIntelCustomFeedsDirectory = "/feeds"
	cfg.ThreatIntel.OnlineFeeds = nil

	patterns := LoadThreatPatterns(context.Background(), afs, &cfg)
	require.True(t, patterns.BadIPs["198.51.100.7"])
	require.True(t, patterns.BadIPs["2001:db8::bad"])
	require.True(t, patterns.SuspiciousDomains["evil.example.com"])
	require.False(t, patterns.BadIPs["203.0.113.1"], "non-.txt files are not feeds")
	require.Len(t, patterns.BadIPs, 2)
}

func TestLoadThreatPatternsFromOnlineFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("192.0.2.77\ntracker.example.net\n"))
	}))
	defer server.Close()

	cfg := config.GetDefaultConfig()
	cfg.Env.ThreatIntelCustomFeedsDirectory = ""
	cfg.ThreatIntel.OnlineFeeds = []string{server.URL}

	patterns := LoadThreatPatterns(context.Background(), afero.NewMemMapFs(), &cfg)
	require.True(t, patterns.BadIPs["192.0.2.77"])
	require.True(t, patterns.SuspiciousDomains["tracker.example.net"])
}

func TestLoadThreatPatternsSurvivesUnreachableFeed(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Env.ThreatIntelCustomFeedsDirectory = ""
	cfg.ThreatIntel.OnlineFeeds = []string{"http://127.0.0.1:1/feed.txt"}

	patterns := LoadThreatPatterns(context.Background(), afero.NewMemMapFs(), &cfg)
	require.Empty(t, patterns.BadIPs)
	require.NotEmpty(t, patterns.Patterns, "built-in regex list survives feed failures")
}

func TestMatchesPattern(t *testing.T) {
	patterns := NewThreatPatterns()

	matching := []string{
		"payload.exe",
		"dropper.SCR",
		"update.ps1",
		"/uploads/shell.php",
		"/admin/c99.asp",
		"<script>alert(1)</script>",
	}
	for _, indicator := range matching {
		require.True(t, patterns.MatchesPattern(indicator), "indicator %q", indicator)
	}

	clean := []string{"45.33.32.156", "normal.example.com", "/index.html", "report.pdf"}
	for _, indicator := range clean {
		require.False(t, patterns.MatchesPattern(indicator), "indicator %q", indicator)
	}
}
