package fiberjobs

import "fmt"

// Priority selects the lane a task is queued on. Lanes are drained strictly
// High before Mid before Low on every dequeue; sustained High load starves
// Low.
type Priority int

const (
	High Priority = iota
	Mid
	Low

	numPriorities = 3
)

// String returns the lower-case lane name.
func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Mid:
		return "mid"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a lane name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return High, nil
	case "mid":
		return Mid, nil
	case "low":
		return Low, nil
	default:
		return 0, &SchedulerError{msg: "unknown priority " + s, err: ErrInvalidPriority}
	}
}

func (p Priority) valid() bool {
	return p >= High && p <= Low
}
