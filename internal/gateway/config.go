package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/mercadopago"
	"github.com/angelmondragon/paylifecycle/pkg/square"
)

// NewRouterFromConfig builds a router with every gateway that has credentials. A gateway without
// an access token is left out and its payment method answers with a dependency error.
func NewRouterFromConfig(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Router, error) {
	clients := []Client{}

	if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		sqClient, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		sqGateway, err := NewSquare(sqClient, logg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, sqGateway)
	} else {
		logg.Warn(ctx, "square access token not set; card payments disabled")
	}

	if strings.TrimSpace(cfg.MercadoPago.AccessToken) != "" {
		mpClient, err := mercadopago.NewClient(
			cfg.MercadoPago.AccessToken,
			mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL),
			mercadopago.WithTimeout(cfg.MercadoPago.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("mercadopago client: %w", err)
		}
		mpGateway, err := NewMercadoPago(MercadoPagoParams{
			API:             mpClient,
			NotificationURL: cfg.MercadoPago.NotificationURL,
			Sandbox:         cfg.MercadoPago.Sandbox,
			Logger:          logg,
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, mpGateway)
	} else {
		logg.Warn(ctx, "mercadopago access token not set; bank transfers disabled")
	}

	return NewRouter(clients...), nil
}
