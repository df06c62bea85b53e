// cmd/fc-main/main.go
package main

import (
	"context"
	"runtime"
	"time"

	"flightcode-go/bus"
	"flightcode-go/services/annunciator"
	"flightcode-go/services/config"
	"flightcode-go/services/hal"
	"flightcode-go/services/heartbeat"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot")

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "fc1")

	b := bus.NewBus(4)
	halConn := b.NewConnection("hal")
	cfgConn := b.NewConnection("config")
	hbConn := b.NewConnection("heartbeat")
	annConn := b.NewConnection("annunciator")

	println("[main] starting services")
	config.NewConfigService().Start(ctx, cfgConn)
	_ = (&heartbeat.Service{}).Start(ctx, hbConn)
	annunciator.New(annConn).Start(ctx)
	go hal.Run(ctx, halConn)

	// Periodic memory snapshot while the services run.
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			printMem()
		}
	}
}

// printMem prints a compact snapshot of runtime memory stats using builtin
// println to avoid fmt overhead.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"heapSys:", uint32(ms.HeapSys),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
