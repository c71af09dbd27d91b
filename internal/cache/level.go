package cache

import (
	"fmt"
	"strings"

	"aimake-cache/internal/common/errors"
)

// Level is the tiering policy of a Manager
type Level string

const (
	// LevelMemoryOnly reads and writes the in-process tier only
	LevelMemoryOnly Level = "memory_only"
	// LevelRemoteOnly reads and writes the remote tier only
	LevelRemoteOnly Level = "remote_only"
	// LevelMemoryFirst reads memory then remote, backfilling memory on a remote hit
	LevelMemoryFirst Level = "memory_first"
	// LevelRemoteFirst reads remote then memory; remote is the source of truth
	LevelRemoteFirst Level = "remote_first"
	// LevelBoth writes both tiers and reads memory then remote without read-repair
	LevelBoth Level = "both"
)

// Levels lists every accepted level name
func Levels() []string {
	return []string{
		string(LevelMemoryOnly),
		string(LevelRemoteOnly),
		string(LevelMemoryFirst),
		string(LevelRemoteFirst),
		string(LevelBoth),
	}
}

// ParseLevel converts a configuration string into a Level
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(s)))
	if !level.Valid() {
		return "", errors.ConfigError(fmt.Sprintf("unknown cache level %q (want one of %s)", s, strings.Join(Levels(), ", ")))
	}
	return level, nil
}

// Valid reports whether l is a known level
func (l Level) Valid() bool {
	switch l {
	case LevelMemoryOnly, LevelRemoteOnly, LevelMemoryFirst, LevelRemoteFirst, LevelBoth:
		return true
	}
	return false
}

// UsesMemory reports whether the level involves the in-process tier
func (l Level) UsesMemory() bool {
	return l != LevelRemoteOnly
}

// UsesRemote reports whether the level involves the remote tier
func (l Level) UsesRemote() bool {
	return l != LevelMemoryOnly
}

func (l Level) String() string {
	return string(l)
}
