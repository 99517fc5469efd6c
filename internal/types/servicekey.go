package types

import (
	"fmt"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

// ServiceKey identifies one billable configuration stream: the
// (service, environment, plan) triple. It is immutable and composes into
// the stable string key used in the persisted state document.
type ServiceKey struct {
	Service     string
	Environment string
	Plan        string
}

func NewServiceKey(service, environment, plan string) ServiceKey {
	return ServiceKey{
		Service:     service,
		Environment: environment,
		Plan:        plan,
	}
}

// String returns the "service:environment:plan" form used to key the
// persisted state document.
func (k ServiceKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Service, k.Environment, k.Plan)
}

func (k ServiceKey) Validate() error {
	if k.Service == "" || k.Environment == "" || k.Plan == "" {
		return ierr.NewError("service key requires service, environment and plan").
			WithHint("Set METERBRIDGE_PROCESSOR_SERVICE_NAME, _ENVIRONMENT_TYPE and _PLAN_ID").
			Mark(ierr.ErrValidation)
	}
	return nil
}
