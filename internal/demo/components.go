// Package demo holds the sample components the stateful server deploys with --demo.
package demo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/stateful"
	"github.com/aretw0/stateful/pkg/domain"
)

// ErrEmptyCart is returned by checkout on a cart without items.
var ErrEmptyCart = errors.New("cart is empty")

// Counter is the state of the counter component.
type Counter struct {
	Value int `json:"value"`
}

// Cart is the state of the cart component.
type Cart struct {
	Owner string   `json:"owner"`
	Items []string `json:"items"`
}

// Components returns every demo component type.
func Components() []*stateful.ComponentType {
	return []*stateful.ComponentType{CounterComponent(), CartComponent()}
}

// CounterComponent is a counter with increment, value and reset.
func CounterComponent() *stateful.ComponentType {
	return &stateful.ComponentType{
		ID: "counter",
		Interfaces: map[domain.InterfaceType][]string{
			domain.InterfaceBusinessLocalHome: {"create"},
			domain.InterfaceBusinessLocal:     {"increment", "value", "reset"},
			domain.InterfaceBusinessRemote:    {"value"},
			domain.InterfaceLocal:             {"remove"},
		},
		Methods: map[string]stateful.MethodFunc{
			"increment": func(_ context.Context, bean any, args []any) (any, error) {
				by := 1
				if len(args) > 0 {
					if err := intArg(args[0], &by); err != nil {
						return nil, err
					}
				}
				c := bean.(*Counter)
				c.Value += by
				return c.Value, nil
			},
			"value": func(_ context.Context, bean any, _ []any) (any, error) {
				return bean.(*Counter).Value, nil
			},
			"reset": func(_ context.Context, bean any, _ []any) (any, error) {
				bean.(*Counter).Value = 0
				return 0, nil
			},
		},
		DefaultTransactionAttribute: domain.TxSupports,
		New:                         func() any { return &Counter{} },
	}
}

// CartComponent is a shopping cart. It is created through the component
// home with an owner, and checkout ends the conversation.
func CartComponent() *stateful.ComponentType {
	return &stateful.ComponentType{
		ID: "cart",
		Interfaces: map[domain.InterfaceType][]string{
			domain.InterfaceLocalHome:     {"create"},
			domain.InterfaceBusinessLocal: {"add", "items", "checkout"},
			domain.InterfaceLocal:         {"remove"},
		},
		RemoveMethods:     []string{"checkout"},
		RetainIfException: map[string]bool{"checkout": true},
		Methods: map[string]stateful.MethodFunc{
			"create": func(_ context.Context, bean any, args []any) (any, error) {
				if len(args) != 1 {
					return nil, domain.NewApplicationError(errors.New("create: owner is required"))
				}
				bean.(*Cart).Owner = fmt.Sprint(args[0])
				return nil, nil
			},
			"add": func(_ context.Context, bean any, args []any) (any, error) {
				if len(args) != 1 {
					return nil, domain.NewApplicationError(fmt.Errorf("add: want 1 argument, got %d", len(args)))
				}
				c := bean.(*Cart)
				c.Items = append(c.Items, fmt.Sprint(args[0]))
				return len(c.Items), nil
			},
			"items": func(_ context.Context, bean any, _ []any) (any, error) {
				return append([]string(nil), bean.(*Cart).Items...), nil
			},
			"checkout": func(_ context.Context, bean any, _ []any) (any, error) {
				c := bean.(*Cart)
				if len(c.Items) == 0 {
					return nil, domain.NewRollbackError(ErrEmptyCart)
				}
				return fmt.Sprintf("%s: %s", c.Owner, strings.Join(c.Items, ", ")), nil
			},
		},
		TransactionAttributes: map[string]domain.TransactionAttribute{
			"checkout": domain.TxRequiresNew,
		},
		New: func() any { return &Cart{} },
	}
}

// intArg decodes a loosely typed argument (JSON number or numeric string).
func intArg(arg any, out *int) error {
	if err := mapstructure.WeakDecode(arg, out); err != nil {
		return domain.NewApplicationError(fmt.Errorf("not an integer: %v", arg))
	}
	return nil
}
