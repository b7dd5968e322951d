package stage

// Health summarizes the readiness of a workflow stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// DisabledDetail marks a pipeline switched off in the config.
const DisabledDetail = "disabled"

// Disabled constructs the Health record of a switched-off pipeline.
func Disabled(name string) Health {
	return Health{Name: name, Detail: DisabledDetail}
}

// Degraded reports whether an enabled pipeline is not ready.
func (h Health) Degraded() bool {
	return !h.Ready && h.Detail != DisabledDetail
}
