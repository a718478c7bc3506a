// Package filter implements rsync-style include/exclude chains plus size
// bounds. Rules are evaluated in the order they were added; the first
// matching rule decides, and an unmatched path is included.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type rule struct {
	pattern *pattern
	include bool
}

// Chain holds an ordered list of filter rules plus size bounds.
type Chain struct {
	rules   []rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain { return &Chain{} }

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(glob string) error { return c.add(glob, false) }

// AddInclude appends an include rule.
func (c *Chain) AddInclude(glob string) error { return c.add(glob, true) }

func (c *Chain) add(glob string, include bool) error {
	p, err := compile(glob)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", glob, err)
	}
	c.rules = append(c.rules, rule{pattern: p, include: include})
	return nil
}

// SetMinSize excludes regular files smaller than n bytes.
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize excludes regular files larger than n bytes.
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain has no rules and no size bounds.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0
}

// Match reports whether relPath should be synchronized. Size bounds apply
// only to regular files.
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	if !isDir {
		if c.minSize > 0 && size < c.minSize {
			return false
		}
		if c.maxSize > 0 && size > c.maxSize {
			return false
		}
	}

	for _, r := range c.rules {
		if r.pattern.match(relPath, isDir) {
			return r.include
		}
	}
	return true
}

// LoadFile reads rules from a file, one per line: "+ glob" includes,
// "- glob" excludes, a bare glob excludes, "#" starts a comment.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for lineNum := 1; sc.Scan(); lineNum++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		include := false
		switch {
		case strings.HasPrefix(line, "+ "):
			include = true
			line = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			line = strings.TrimSpace(line[2:])
		}

		if err := c.add(line, include); err != nil {
			return fmt.Errorf("%s line %d: %w", path, lineNum, err)
		}
	}
	return sc.Err()
}

// ParseSize parses a human-readable size like "100", "64K" or "1.5G"
// into bytes, using powers of 1024 as rsync does.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch strings.ToUpper(s[len(s)-1:]) {
	case "B":
		s = s[:len(s)-1]
	case "K":
		multiplier, s = 1<<10, s[:len(s)-1]
	case "M":
		multiplier, s = 1<<20, s[:len(s)-1]
	case "G":
		multiplier, s = 1<<30, s[:len(s)-1]
	case "T":
		multiplier, s = 1<<40, s[:len(s)-1]
	}
	if s == "" {
		return 0, fmt.Errorf("invalid size")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n * multiplier, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(f * float64(multiplier)), nil
}
