package link

// DeviceInfo is the connection-level view of a buoy sent to the proxy.
type DeviceInfo struct {
	DeviceID   string
	Source     string
	RemoteIP   string
	RemotePort int
}
