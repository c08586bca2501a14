package memmonitor

// Level is the memory pressure classification.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

// Default pressure thresholds as a fraction of physical memory.
const (
	DefaultWarningThreshold  = 0.70
	DefaultCriticalThreshold = 0.90
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in JSON reports.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Thresholds are the usage ratios at which pressure becomes warning and critical.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds returns 0.70 / 0.90.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: DefaultWarningThreshold, Critical: DefaultCriticalThreshold}
}

// Classify maps usage/total onto a Level. A zero total is treated as normal.
func (t Thresholds) Classify(usage, total uint64) Level {
	if total == 0 {
		return LevelNormal
	}
	ratio := float64(usage) / float64(total)
	switch {
	case ratio >= t.Critical:
		return LevelCritical
	case ratio >= t.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// ClassifyPressure classifies usage against total with the default thresholds.
func ClassifyPressure(usage, total uint64) Level {
	return DefaultThresholds().Classify(usage, total)
}
