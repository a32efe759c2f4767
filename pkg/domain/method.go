package domain

import "strings"

// MethodKind classifies an invocation for the container's dispatch table.
type MethodKind int

const (
	KindBusiness MethodKind = iota
	KindCreate
	KindRemove
)

func (k MethodKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindRemove:
		return "remove"
	default:
		return "business"
	}
}

// InterfaceType identifies the client view a method was invoked through.
type InterfaceType int

const (
	// Business views.
	InterfaceBusinessLocal InterfaceType = iota
	InterfaceBusinessRemote
	InterfaceLocalBean

	// Business homes (create only, no initializer).
	InterfaceBusinessLocalHome
	InterfaceBusinessRemoteHome
	InterfaceLocalBeanHome

	// Component (legacy) views and their homes.
	InterfaceRemote
	InterfaceLocal
	InterfaceHome
	InterfaceLocalHome
)

var interfaceNames = map[InterfaceType]string{
	InterfaceBusinessLocal:      "business-local",
	InterfaceBusinessRemote:     "business-remote",
	InterfaceLocalBean:          "local-bean",
	InterfaceBusinessLocalHome:  "business-local-home",
	InterfaceBusinessRemoteHome: "business-remote-home",
	InterfaceLocalBeanHome:      "local-bean-home",
	InterfaceRemote:             "remote",
	InterfaceLocal:              "local",
	InterfaceHome:               "home",
	InterfaceLocalHome:          "local-home",
}

func (t InterfaceType) String() string {
	if name, ok := interfaceNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseInterfaceType is the inverse of String.
func ParseInterfaceType(s string) (InterfaceType, bool) {
	for t, name := range interfaceNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// IsBusiness reports whether t is a business (EJB3-style) view.
func (t InterfaceType) IsBusiness() bool {
	return t == InterfaceBusinessLocal || t == InterfaceBusinessRemote || t == InterfaceLocalBean
}

// IsComponent reports whether t is a legacy component view (remote or local object).
func (t InterfaceType) IsComponent() bool {
	return t == InterfaceRemote || t == InterfaceLocal
}

// IsHome reports whether t is any kind of home.
func (t InterfaceType) IsHome() bool {
	switch t {
	case InterfaceBusinessLocalHome, InterfaceBusinessRemoteHome, InterfaceLocalBeanHome,
		InterfaceHome, InterfaceLocalHome:
		return true
	}
	return false
}

// IsBusinessHome reports whether t is a synthetic home backing a business view.
// Creates through these homes do not run the bean initializer.
func (t InterfaceType) IsBusinessHome() bool {
	return t == InterfaceBusinessLocalHome || t == InterfaceBusinessRemoteHome || t == InterfaceLocalBeanHome
}

// Method is the identity of an invoked method.
type Method struct {
	Interface InterfaceType
	Name      string
}

func (m Method) String() string {
	return m.Interface.String() + "." + m.Name
}

// IsCreateName reports whether name follows the home create naming rule.
func IsCreateName(name string) bool {
	return strings.HasPrefix(name, "create")
}

// RemoveMethodName is the fixed name of home and component remove methods.
const RemoveMethodName = "remove"
