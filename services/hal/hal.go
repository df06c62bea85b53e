// services/hal/hal.go
package hal

import (
	"context"

	"flightcode-go/bus"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/services/hal/internal/platform"
	"flightcode-go/services/hal/internal/platform/setups"
	"flightcode-go/services/hal/internal/worker"
)

// Run wires the board resources and the shared measure worker into the HAL
// loop and blocks until ctx is cancelled. Device builders register themselves
// from the setups package imports.
func Run(ctx context.Context, conn *bus.Connection) {
	reg := platform.NewResourceRegistry(setups.SelectedPlan)

	meas := worker.New(worker.Config{})
	meas.Start(ctx)

	h := core.NewHAL(conn, core.Resources{Reg: reg, Meas: meas})

	// Boot configuration from the selected board setup, retained so the loop
	// sees it as soon as it subscribes. A config service publish on the same
	// topic supersedes it.
	if len(setups.SelectedSetup.Devices) > 0 {
		conn.Publish(conn.NewMessage(bus.T("config", "hal"), setups.SelectedSetup, true))
	}

	h.Run(ctx)
}
