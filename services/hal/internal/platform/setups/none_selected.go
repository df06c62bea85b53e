//go:build rp2040 && !fc_quad_v1

package setups

import (
	"flightcode-go/services/hal/internal/platform"
	"flightcode-go/types"
)

// No board setup tag given: the HAL boots with no controllers and no devices.
// Build with -tags fc_quad_v1 (or add a setup file) to get hardware.
var SelectedPlan = platform.ResourcePlan{}

var SelectedSetup = types.HALConfig{}
