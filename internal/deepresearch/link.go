package deepresearch

import (
	"net/url"
	"strings"
)

// ReferenceParam is the query parameter carrying a task id in share links.
const ReferenceParam = "research"

// ShareLink returns the app URL that reopens taskID.
func ShareLink(appURL, taskID string) string {
	base := strings.TrimRight(appURL, "/")
	return base + "/?" + url.Values{ReferenceParam: {taskID}}.Encode()
}

// ParseReference extracts a task id from a share link, or returns s itself
// when it is a bare id. ok is false when no id can be found.
func ParseReference(s string) (taskID string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") && !strings.HasPrefix(s, "?") && !strings.Contains(s, "=") {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(u.Query().Get(ReferenceParam))
	return id, id != ""
}
