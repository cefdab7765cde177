package terminal

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed banner.txt
var bannerTemplate string

// BannerInfo fills the startup banner.
type BannerInfo struct {
	Engine     string
	SessionID  string
	BreakWord  string
	KillWord   string
	StatusWord string
	MaxLine    int
	Extra      map[string]string // optional "key: value" lines, sorted by key
}

// BuildBanner renders the startup banner.
func BuildBanner(info BannerInfo) string {
	r := strings.NewReplacer(
		"{ENGINE}", info.Engine,
		"{SESSION_ID}", info.SessionID,
		"{BREAK_WORD}", info.BreakWord,
		"{KILL_WORD}", info.KillWord,
		"{STATUS_WORD}", info.StatusWord,
		"{MAX_LINE}", fmt.Sprintf("%d", info.MaxLine),
		"{EXTRA}", formatExtra(info.Extra),
	)
	return r.Replace(bannerTemplate)
}

func formatExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %s", k, extra[k])
	}
	return sb.String()
}
