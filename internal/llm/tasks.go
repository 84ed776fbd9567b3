package llm

import "fmt"

// TaskKind is the closed set of model invocation categories. Each kind maps
// to exactly one model identifier and one default temperature for the
// process lifetime.
type TaskKind int

const (
	TaskClassification TaskKind = iota
	TaskGeneration
	TaskSynthesis
	TaskCreative
)

func (k TaskKind) String() string {
	switch k {
	case TaskClassification:
		return "classification"
	case TaskGeneration:
		return "generation"
	case TaskSynthesis:
		return "synthesis"
	case TaskCreative:
		return "creative"
	default:
		return fmt.Sprintf("task(%d)", int(k))
	}
}

// AllTasks is used to verify the routing table is total at startup.
var AllTasks = []TaskKind{TaskClassification, TaskGeneration, TaskSynthesis, TaskCreative}

// Route binds a task kind to a concrete model and default temperature.
type Route struct {
	Model       string
	Temperature float64
}
