package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketplaceMetrics struct {
	listings     prometheus.Counter
	purchases    prometheus.Counter
	rejections   *prometheus.CounterVec
	volumeWei    prometheus.Counter
	productCount prometheus.Gauge
}

var (
	marketplaceOnce     sync.Once
	marketplaceRegistry *MarketplaceMetrics
)

func Marketplace() *MarketplaceMetrics {
	marketplaceOnce.Do(func() {
		marketplaceRegistry = &MarketplaceMetrics{
			listings: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_listings_total",
				Help: "Count of products listed.",
			}),
			purchases: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_purchases_total",
				Help: "Count of completed purchases.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_rejections_total",
				Help: "Count of rejected marketplace transactions by reason.",
			}, []string{"reason"}),
			volumeWei: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_volume_wei_total",
				Help: "Total payment forwarded to sellers, in wei.",
			}),
			productCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "marketplace_products",
				Help: "Number of products ever listed.",
			}),
		}
		prometheus.MustRegister(
			marketplaceRegistry.listings,
			marketplaceRegistry.purchases,
			marketplaceRegistry.rejections,
			marketplaceRegistry.volumeWei,
			marketplaceRegistry.productCount,
		)
	})
	return marketplaceRegistry
}

func (m *MarketplaceMetrics) ObserveListing(count uint64) {
	if m == nil {
		return
	}
	m.listings.Inc()
	m.productCount.Set(float64(count))
}

func (m *MarketplaceMetrics) ObservePurchase(payment *big.Int) {
	if m == nil {
		return
	}
	m.purchases.Inc()
	if payment != nil && payment.Sign() > 0 {
		f, _ := new(big.Float).SetInt(payment).Float64()
		m.volumeWei.Add(f)
	}
}

func (m *MarketplaceMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *MarketplaceMetrics) SetProductCount(count uint64) {
	if m == nil {
		return
	}
	m.productCount.Set(float64(count))
}
