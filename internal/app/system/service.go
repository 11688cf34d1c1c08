package system

import "context"

// Service is a background component the manager starts and stops with the
// process, such as the mail dispatcher or the expiry sweeper.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Descriptor advertises what a background service does. It is reported by
// the status endpoint and has no effect on scheduling.
type Descriptor struct {
	Name     string   `json:"name"`
	Module   string   `json:"module"`
	Schedule string   `json:"schedule,omitempty"`
	Tasks    []string `json:"tasks,omitempty"`
}

// Describer is implemented by services that publish a Descriptor.
type Describer interface {
	Describe() Descriptor
}

// describe returns svc's descriptor, falling back to its name.
func describe(svc Service) Descriptor {
	if d, ok := svc.(Describer); ok {
		desc := d.Describe()
		if desc.Name == "" {
			desc.Name = svc.Name()
		}
		return desc
	}
	return Descriptor{Name: svc.Name()}
}
