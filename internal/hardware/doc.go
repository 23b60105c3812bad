// Package hardware defines the device contracts the scan executor drives:
// stage axes, the shutter, the fly-scan detector with its metadata registers,
// and the acquisition run recorder.
//
// Implementations are injected through constructors. The metadata register
// table is a closed enumeration validated when it is built, so a scan never
// discovers a missing setpoint halfway through staging.
package hardware
