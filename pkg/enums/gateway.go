package enums

// Gateway names the external provider that owns a preference.
type Gateway string

const (
	GatewaySquare      Gateway = "square"
	GatewayMercadoPago Gateway = "mercadopago"
)

var validGateways = []Gateway{
	GatewaySquare,
	GatewayMercadoPago,
}

func (g Gateway) String() string {
	return string(g)
}

func (g Gateway) IsValid() bool {
	return known(validGateways, g)
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	return parse(validGateways, value, "gateway")
}
