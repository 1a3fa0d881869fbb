package gateway

import (
	"fmt"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
)

// Router dispatches issue requests by payment method and status queries by gateway name.
type Router struct {
	byName   map[enums.Gateway]Client
	byMethod map[enums.PaymentMethod]enums.Gateway
}

// NewRouter registers the clients. Nil clients are skipped so optional gateways can be left
// unconfigured.
func NewRouter(clients ...Client) *Router {
	r := &Router{
		byName: make(map[enums.Gateway]Client),
		byMethod: map[enums.PaymentMethod]enums.Gateway{
			enums.PaymentMethodCard:         enums.GatewaySquare,
			enums.PaymentMethodBankTransfer: enums.GatewayMercadoPago,
		},
	}
	for _, client := range clients {
		if client == nil {
			continue
		}
		r.byName[client.Name()] = client
	}
	return r
}

// Route overrides the gateway used for a payment method.
func (r *Router) Route(method enums.PaymentMethod, name enums.Gateway) *Router {
	r.byMethod[method] = name
	return r
}

// ForMethod returns the client that issues preferences for method.
func (r *Router) ForMethod(method enums.PaymentMethod) (Client, error) {
	name, ok := r.byMethod[method]
	if !ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, fmt.Errorf("%w: method %q", ErrUnsupported, method), "unsupported payment method")
	}
	return r.ForGateway(name)
}

// ForGateway returns the registered client by name.
func (r *Router) ForGateway(name enums.Gateway) (Client, error) {
	client, ok := r.byName[name]
	if !ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %q", ErrUnsupported, name), "gateway not configured")
	}
	return client, nil
}

// Querier implements Resolver.
func (r *Router) Querier(name enums.Gateway) (StatusQuerier, error) {
	return r.ForGateway(name)
}

// Gateways lists the configured gateway names.
func (r *Router) Gateways() []enums.Gateway {
	out := make([]enums.Gateway, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
