package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/stateful/internal/presentation/graph"
	"github.com/aretw0/stateful/pkg/domain"
)

// DescribeComponent renders the client views of ct as a markdown document.
func DescribeComponent(ct *domain.ComponentType) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", ct.DisplayName())

	demarcation := "container-managed"
	if ct.TransactionType == domain.BeanManaged {
		demarcation = "bean-managed"
	}
	fmt.Fprintf(&sb, "- **id**: `%s`\n", ct.ID)
	fmt.Fprintf(&sb, "- **transactions**: %s\n", demarcation)
	if ct.Callbacks.SessionSynchronized() {
		sb.WriteString("- **session synchronization**: yes\n")
	}
	if len(ct.ExtendedResources) > 0 {
		ids := make([]string, len(ct.ExtendedResources))
		for i, f := range ct.ExtendedResources {
			ids[i] = "`" + f.ID() + "`"
		}
		fmt.Fprintf(&sb, "- **extended resources**: %s\n", strings.Join(ids, ", "))
	}

	sb.WriteString("\n| View | Method | Kind | Transaction |\n")
	sb.WriteString("|------|--------|------|-------------|\n")
	for _, iface := range graph.Views(ct) {
		names := slices.Clone(ct.Interfaces[iface])
		slices.Sort(names)
		for _, name := range names {
			m := domain.Method{Interface: iface, Name: name}
			kind := ct.MethodKind(m).String()
			if kind == "remove" && ct.RetainIfException[name] {
				kind += " (retained on error)"
			}
			fmt.Fprintf(&sb, "| %s | `%s` | %s | %s |\n", iface, name, kind, ct.TransactionAttribute(m))
		}
	}
	return sb.String()
}
