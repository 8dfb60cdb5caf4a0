package bt

import "fmt"

// Status is both the lifecycle state of a node and the result of one
// evaluation. Inactive is never a valid evaluation result.
type Status int

const (
	Inactive Status = iota
	Running
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s is Success or Failure.
func (s Status) Terminal() bool {
	return s == Success || s == Failure
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind tags the variant of a node.
type Kind int

const (
	KindComposite Kind = iota + 1
	KindDecorator
	KindAction
	KindCondition
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindComposite:
		return "composite"
	case KindDecorator:
		return "decorator"
	case KindAction:
		return "action"
	case KindCondition:
		return "condition"
	case KindService:
		return "service"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
