package matcher

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// RegexpPrefix marks a pattern as a regular expression; other patterns are
// plain substrings.
const RegexpPrefix = "re:"

const defaultPatternCacheSize = 256

// patternCache keeps compiled regular expressions across test cases.
type patternCache struct {
	compiled *lru.Cache
}

func newPatternCache(size int) (*patternCache, error) {
	if size <= 0 {
		size = defaultPatternCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &patternCache{compiled: c}, nil
}

// match reports whether s satisfies pattern. An empty pattern matches
// anything.
func (p *patternCache) match(pattern, s string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	expr, ok := strings.CutPrefix(pattern, RegexpPrefix)
	if !ok {
		return strings.Contains(s, pattern), nil
	}
	re, err := p.compile(expr)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

func (p *patternCache) compile(expr string) (*regexp.Regexp, error) {
	if v, ok := p.compiled.Get(expr); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	p.compiled.Add(expr, re)
	return re, nil
}
