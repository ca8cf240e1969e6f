package browser

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

var secretRegex = regexp.MustCompile(`<secret>\s*([^<]+?)\s*</secret>`)

// secretMatcher resolves which sensitive values a page may receive.
type secretMatcher struct {
	mu    sync.Mutex
	globs map[string]glob.Glob
}

func newSecretMatcher() *secretMatcher {
	return &secretMatcher{globs: make(map[string]glob.Glob)}
}

// allowed merges the values of every domain pattern matching pageURL.
// Global patterns ("*" or "") apply even without a page.
func (m *secretMatcher) allowed(data map[string]map[string]string, pageURL string) map[string]string {
	patterns := make([]string, 0, len(data))
	for p := range data {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	out := make(map[string]string)
	for _, pattern := range patterns {
		if !m.matches(pattern, pageURL) {
			continue
		}
		for k, v := range data[pattern] {
			out[k] = v
		}
	}
	return out
}

func (m *secretMatcher) matches(pattern, pageURL string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	target := host
	if strings.Contains(pattern, "://") {
		target = strings.ToLower(u.Scheme) + "://" + host
	}
	pattern = strings.ToLower(pattern)

	// *.example.com also covers example.com itself.
	if bare, ok := strings.CutPrefix(pattern, "*."); ok && host == bare {
		return true
	}

	g, err := m.compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(target)
}

func (m *secretMatcher) compile(pattern string) (glob.Glob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.globs[pattern]; ok {
		return g, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.globs[pattern] = g
	return g, nil
}

// substitute replaces placeholders in every string parameter. It returns
// the names that were substituted and those with no allowed value; the
// latter are left in place.
func substitute(params Params, secrets map[string]string) (out Params, used, missing []string) {
	seenUsed := make(map[string]bool)
	seenMissing := make(map[string]bool)

	replace := func(s string) string {
		return secretRegex.ReplaceAllStringFunc(s, func(match string) string {
			name := secretRegex.FindStringSubmatch(match)[1]
			if v, ok := secrets[name]; ok {
				if !seenUsed[name] {
					seenUsed[name] = true
					used = append(used, name)
				}
				return v
			}
			if !seenMissing[name] {
				seenMissing[name] = true
				missing = append(missing, name)
			}
			return match
		})
	}

	var walk func(v any) any
	walk = func(v any) any {
		switch t := v.(type) {
		case string:
			return replace(t)
		case []any:
			cp := make([]any, len(t))
			for i, item := range t {
				cp[i] = walk(item)
			}
			return cp
		case map[string]any:
			cp := make(map[string]any, len(t))
			for k, item := range t {
				cp[k] = walk(item)
			}
			return cp
		default:
			return v
		}
	}

	out = make(Params, len(params))
	for k, v := range params {
		out[k] = walk(v)
	}
	sort.Strings(used)
	sort.Strings(missing)
	return out, used, missing
}
