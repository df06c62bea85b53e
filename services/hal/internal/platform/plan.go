package platform

// ResourcePlan specifies wiring and operating parameters chosen by a setup.
// The platform registry consumes it to instantiate resource owners.
type ResourcePlan struct {
	I2C  []I2CPlan
	UART []UARTPlan
}

type I2CPlan struct {
	ID  string // e.g. "i2c0"
	SDA int    // GPIO number
	SCL int    // GPIO number
	Hz  uint32 // bus frequency
}

type UARTPlan struct {
	ID   string // e.g. "uart0"
	TX   int    // GPIO number
	RX   int    // GPIO number
	Baud uint32 // initial baud
}
