package runner

import (
	"fmt"

	"github.com/notargets/gocca"
)

// DefaultBackends are tried in order when no device properties are configured,
// preferring parallel backends
var DefaultBackends = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// CreateDevice creates an OCCA device from JSON properties. An empty props
// string selects the first available of DefaultBackends.
func CreateDevice(props string) (*gocca.OCCADevice, error) {
	if props != "" {
		device, err := gocca.NewDevice(props)
		if err != nil {
			return nil, fmt.Errorf("failed to create device %s: %w", props, err)
		}
		return device, nil
	}

	var lastErr error
	for _, backend := range DefaultBackends {
		device, err := gocca.NewDevice(backend)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no OCCA backend available: %w", lastErr)
}
