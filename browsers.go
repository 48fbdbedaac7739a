package loupe

import (
	"fmt"
	"strings"

	"github.com/loupe-ci/loupe/events"
)

// SplitBrowserList parses a comma-separated browser id list, stripping
// whitespace and dropping empty entries. It is the parsing applied to the
// environment-provided include and skip lists.
func SplitBrowserList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// BrowserIDs returns the configured browser ids.
func (l *Loupe) BrowserIDs() []string {
	return l.cfg.BrowserIDs()
}

// ValidateBrowsers splits ids into the subset known to the configuration
// and the unknown remainder, preserving order.
func (l *Loupe) ValidateBrowsers(ids []string) (valid, unknown []string) {
	for _, id := range ids {
		if l.cfg.ForBrowser(id) != nil {
			valid = append(valid, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	return valid, unknown
}

// checkBrowsers returns the valid subset of ids. Unknown ids are warned
// about and dropped; they never fail the run.
func (l *Loupe) checkBrowsers(ids []string) []string {
	valid, unknown := l.ValidateBrowsers(ids)
	if len(unknown) > 0 {
		msg := fmt.Sprintf("Unknown browser ids: %s. Configured browsers: %s",
			strings.Join(unknown, ", "), strings.Join(l.BrowserIDs(), ", "))
		l.log.Warn(msg)
		l.bus.Emit(events.Warning, msg)
	}
	return valid
}

// resolveBrowsers resolves the requested browser list for a run. A nil list
// means every configured browser; an explicitly empty list stays empty.
func (l *Loupe) resolveBrowsers(requested []string) []string {
	if requested == nil {
		return l.BrowserIDs()
	}
	return l.checkBrowsers(requested)
}
