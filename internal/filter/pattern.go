package filter

import (
	"regexp"
	"strings"
)

// pattern is one compiled rsync-style glob. A trailing slash restricts
// the rule to directories; a leading slash (or any interior slash)
// anchors it to the sync root, otherwise it matches any path suffix.
type pattern struct {
	re      *regexp.Regexp
	dirOnly bool
}

func compile(glob string) (*pattern, error) {
	p := &pattern{}

	if strings.HasSuffix(glob, "/") {
		p.dirOnly = true
		glob = strings.TrimSuffix(glob, "/")
	}

	anchored := strings.Contains(glob, "/")
	glob = strings.TrimPrefix(glob, "/")

	expr := globToRegexp(glob)
	if anchored {
		expr = "^" + expr + "$"
	} else {
		expr = "(^|/)" + expr + "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	p.re = re
	return p, nil
}

func (p *pattern) match(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	return p.re.MatchString(relPath)
}

// globToRegexp translates glob syntax: "**" crosses slashes, "*" and "?"
// do not, "[...]" passes through as a character class with "!" negation.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); {
		switch c := glob[i]; c {
		case '*':
			if strings.HasPrefix(glob[i:], "**/") {
				b.WriteString("(.*/)?")
				i += 3
			} else if strings.HasPrefix(glob[i:], "**") {
				b.WriteString(".*")
				i += 2
			} else {
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			j := strings.IndexByte(glob[i+1:], ']')
			if j < 0 {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
				break
			}
			class := glob[i+1 : i+1+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += j + 2
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}
