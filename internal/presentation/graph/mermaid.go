package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/stateful/pkg/domain"
)

// GenerateMermaid produces a Mermaid flowchart of a component's client views.
// Each view links to the methods it exposes, labeled with the transaction
// attribute. It applies semantic styling:
// - Component: ((Circle))
// - View: [/Parallelogram/]
// - Create: ([Stadium])
// - Remove: [[Subroutine]]
// - Business: [Rectangle]
func GenerateMermaid(ct *domain.ComponentType) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	root := sanitizeMermaidID(ct.ID)
	sb.WriteString(fmt.Sprintf("    %s((\"%s\"))\n", root, ct.DisplayName()))

	for _, iface := range Views(ct) {
		viewID := root + "_" + sanitizeMermaidID(iface.String())
		sb.WriteString(fmt.Sprintf("    %s[/\"%s\"/]\n", viewID, iface))
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", root, viewID))

		for _, name := range sortedNames(ct.Interfaces[iface]) {
			m := domain.Method{Interface: iface, Name: name}
			kind := ct.MethodKind(m)
			methodID := viewID + "_" + sanitizeMermaidID(name)

			opener, closer := "[", "]"
			switch kind {
			case domain.KindCreate:
				opener, closer = "([", "])"
			case domain.KindRemove:
				opener, closer = "[[", "]]"
			}
			sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", methodID, opener, name, closer))
			sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", viewID, ct.TransactionAttribute(m), methodID))
			sb.WriteString(fmt.Sprintf("    class %s %s;\n", methodID, kind))
		}
	}

	sb.WriteString("\n    %% Method kinds\n")
	sb.WriteString("    classDef create fill:#e8f5e9,stroke:#1b5e20,color:#000;\n")
	sb.WriteString("    classDef remove fill:#ffebee,stroke:#b71c1c,color:#000;\n")
	sb.WriteString("    classDef business fill:#e1f5fe,stroke:#01579b,color:#000;\n")
	return sb.String()
}

// Views returns the client views of ct in declaration order of the interface types.
func Views(ct *domain.ComponentType) []domain.InterfaceType {
	views := make([]domain.InterfaceType, 0, len(ct.Interfaces))
	for iface := range ct.Interfaces {
		views = append(views, iface)
	}
	slices.Sort(views)
	return views
}

func sortedNames(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return out
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
