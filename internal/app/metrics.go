package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mrcode/glycemia/internal/models"
)

// Metrics holds the Prometheus metrics of the service
type Metrics struct {
	PredictedBSL   prometheus.Gauge
	Uncertainty    prometheus.Gauge
	IOB            prometheus.Gauge
	COB            prometheus.Gauge
	AlcoholGrams   prometheus.Gauge
	CombinedFactor prometheus.Gauge

	Alerts          *prometheus.CounterVec
	Refreshes       prometheus.Counter
	RefreshErrors   *prometheus.CounterVec
	RefreshLatency  prometheus.Histogram
	Recommendations prometheus.Counter
	RecommendedDose prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PredictedBSL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glycemia_predicted_bsl_mmol",
			Help: "Predicted BSL at the last refresh in mmol/L",
		}),
		Uncertainty: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glycemia_prediction_uncertainty_mmol",
			Help: "Half width of the prediction confidence interval in mmol/L",
		}),
		IOB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glycemia_insulin_on_board_units",
			Help: "Active insulin in units",
		}),
		COB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glycemia_carbs_on_board_grams",
			Help: "Unabsorbed carbohydrates in grams",
		}),
		AlcoholGrams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glycemia_alcohol_in_system_grams",
			Help: "Alcohol in the system in grams",
		}),
		CombinedFactor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glycemia_circadian_combined_factor",
			Help: "Current circadian insulin resistance factor",
		}),

		// Alerts by type and severity
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "glycemia_alerts_total",
			Help: "Total number of predicted BSL alerts",
		}, []string{"type", "severity"}),

		Refreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "glycemia_refreshes_total",
			Help: "Total number of successful refreshes",
		}),
		RefreshErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "glycemia_refresh_errors_total",
			Help: "Total number of failed refreshes by stage",
		}, []string{"stage"}),
		RefreshLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "glycemia_refresh_duration_seconds",
			Help:    "Refresh latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),

		Recommendations: factory.NewCounter(prometheus.CounterOpts{
			Name: "glycemia_recommendations_total",
			Help: "Total number of insulin recommendations",
		}),
		RecommendedDose: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "glycemia_recommended_dose_units",
			Help:    "Recommended insulin doses in units",
			Buckets: []float64{0, 1, 2, 4, 6, 8, 10, 15, 20, 30},
		}),
	}
}

// observeState records the metabolic state gauges
func (m *Metrics) observeState(state models.MetabolicState) {
	m.IOB.Set(state.Insulin.TotalIOB)
	m.COB.Set(state.Carbs.TotalCOB)
	m.AlcoholGrams.Set(state.Alcohol.GramsInSystem)
	m.CombinedFactor.Set(state.Circadian.CombinedFactor)
}

// observePrediction records the prediction gauges
func (m *Metrics) observePrediction(p models.BSLPrediction) {
	m.PredictedBSL.Set(p.PredictedBSL)
	m.Uncertainty.Set(p.Uncertainty)
}

// observeAlerts counts alerts by type and severity
func (m *Metrics) observeAlerts(alerts []models.BSLAlert) {
	for _, a := range alerts {
		m.Alerts.WithLabelValues(a.Type, a.Severity).Inc()
	}
}
