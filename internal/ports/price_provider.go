package ports

import (
	"context"

	"github.com/alejandrodnm/moebot/internal/domain"
)

// PriceProvider carga la serie de precios de un ticker, ordenada
// cronológicamente y sin huecos.
type PriceProvider interface {
	Load(ctx context.Context, ticker string) (domain.PriceSeries, error)
}
