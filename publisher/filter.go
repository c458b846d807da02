package publisher

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/db2q/db2q/id"
)

// GlobFilter filters push events by glob patterns over the topic's hex form
type GlobFilter struct {
	topicGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty patterns match everything.
func NewGlobFilter(topicPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		topicGlobs: make([]glob.Glob, 0, len(topicPatterns)),
	}

	for _, pattern := range topicPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
		}
		filter.topicGlobs = append(filter.topicGlobs, g)
	}

	return filter, nil
}

// Match returns true if the topic matches any configured pattern
func (f *GlobFilter) Match(topic id.UUID) bool {
	if len(f.topicGlobs) == 0 {
		return true
	}

	name := topic.String()
	for _, g := range f.topicGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
