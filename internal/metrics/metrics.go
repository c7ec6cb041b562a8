package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// Metrics is the engine's instrumentation surface. Every field is non-nil.
type Metrics struct {
	OrdersSubmitted   Counter
	OrdersResting     Counter
	OrdersFailed      Counter
	OrdersFilled      Counter
	CancelsSubmitted  Counter
	BatchFailures     Counter
	FillsObserved     Counter
	ReconcileQueries  Counter
	ReconcileRecovers Counter
	FillsIgnored      Counter

	ActiveOrders  Gauge
	PendingOrders Gauge
	Inventory     Gauge
	RealizedPnL   Gauge
	TotalFees     Gauge
	LastPrice     Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersSubmitted:   c,
		OrdersResting:     c,
		OrdersFailed:      c,
		OrdersFilled:      c,
		CancelsSubmitted:  c,
		BatchFailures:     c,
		FillsObserved:     c,
		ReconcileQueries:  c,
		ReconcileRecovers: c,
		FillsIgnored:      c,
		ActiveOrders:      g,
		PendingOrders:     g,
		Inventory:         g,
		RealizedPnL:       g,
		TotalFees:         g,
		LastPrice:         g,
	}
}
