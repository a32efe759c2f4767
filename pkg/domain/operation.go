package domain

// Operation is what the container is currently doing with an instance.
type Operation int

const (
	OpBusiness Operation = iota
	OpCreate
	OpRemove
	OpAfterBegin
	OpBeforeCompletion
	OpAfterCompletion
	OpActivate
	OpPassivate
	OpPreDestroy
)

var operationNames = [...]string{
	OpBusiness:         "business",
	OpCreate:           "create",
	OpRemove:           "remove",
	OpAfterBegin:       "after-begin",
	OpBeforeCompletion: "before-completion",
	OpAfterCompletion:  "after-completion",
	OpActivate:         "activate",
	OpPassivate:        "passivate",
	OpPreDestroy:       "pre-destroy",
}

func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}
	return "unknown"
}

// IsSynchronizationCallback reports whether o is one of the transaction
// synchronization callbacks that may re-enter an instance already in use.
func (o Operation) IsSynchronizationCallback() bool {
	return o == OpAfterBegin || o == OpBeforeCompletion || o == OpAfterCompletion
}

// Operation for a method kind.
func (k MethodKind) Operation() Operation {
	switch k {
	case KindCreate:
		return OpCreate
	case KindRemove:
		return OpRemove
	default:
		return OpBusiness
	}
}
