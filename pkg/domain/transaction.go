package domain

// TransactionAttribute is the declared transaction semantics of a method.
type TransactionAttribute int

const (
	TxRequired TransactionAttribute = iota
	TxRequiresNew
	TxSupports
	TxNotSupported
	TxMandatory
	TxNever
	// TxBeanManaged is implied for every method of a bean-managed component.
	TxBeanManaged
)

var attributeNames = [...]string{
	TxRequired:     "Required",
	TxRequiresNew:  "RequiresNew",
	TxSupports:     "Supports",
	TxNotSupported: "NotSupported",
	TxMandatory:    "Mandatory",
	TxNever:        "Never",
	TxBeanManaged:  "BeanManaged",
}

func (a TransactionAttribute) String() string {
	if int(a) < len(attributeNames) {
		return attributeNames[a]
	}
	return "Unknown"
}

// TransactionType says who demarcates transactions for a component.
type TransactionType int

const (
	ContainerManaged TransactionType = iota
	BeanManaged
)
