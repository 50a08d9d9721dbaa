package relay

// Metrics is the gateway's accounting hook. The concrete Prometheus
// implementation lives in the app package; the relay only needs these
// counters.
type Metrics interface {
	FrameRelayed(direction string)
	DecodeError(kind string)
	ClientAttached(role string)
	ClientDetached(role string)
	SessionLost()
}

// NopMetrics satisfies Metrics and counts nothing. Used in tests and when
// the gateway is constructed without a registry.
type NopMetrics struct{}

func (NopMetrics) FrameRelayed(string)   {}
func (NopMetrics) DecodeError(string)    {}
func (NopMetrics) ClientAttached(string) {}
func (NopMetrics) ClientDetached(string) {}
func (NopMetrics) SessionLost()          {}
