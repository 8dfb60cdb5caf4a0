package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// node
	"node.started":     {},
	"node.completed":   {},
	"node.failed":      {},
	"node.interrupted": {},
	"node.error":       {},

	// tree
	"tree.loaded":    {},
	"tree.completed": {},
	"tree.aborted":   {},

	// blackboard
	"blackboard.restored": {},
	"blackboard.saved":    {},

	// leaf
	"leaf.log":   {},
	"leaf.raise": {},

	// operator
	"operator.abort": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
