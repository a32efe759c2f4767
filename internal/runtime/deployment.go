package runtime

import (
	"fmt"
	"sync/atomic"

	"github.com/aretw0/stateful/pkg/domain"
)

// deployment is a deployed component type with its precomputed dispatch table.
type deployment struct {
	ct    *domain.ComponentType
	kinds map[domain.Method]domain.MethodKind
	// destroyed is set by Undeploy; instances released afterwards are discarded.
	destroyed atomic.Bool
}

func newDeployment(ct *domain.ComponentType) (*deployment, error) {
	d := &deployment{ct: ct, kinds: make(map[domain.Method]domain.MethodKind)}
	for iface, names := range ct.Interfaces {
		for _, name := range names {
			m := domain.Method{Interface: iface, Name: name}
			kind := ct.MethodKind(m)
			if kind == domain.KindBusiness && ct.Methods[name] == nil {
				return nil, fmt.Errorf("component %s: no implementation for business method %s", ct.ID, m)
			}
			d.kinds[m] = kind
		}
	}
	return d, nil
}

// kind looks up the dispatch kind of m. Methods outside the deployed views are unknown.
func (d *deployment) kind(m domain.Method) (domain.MethodKind, bool) {
	k, ok := d.kinds[m]
	return k, ok
}
