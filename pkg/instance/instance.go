package instance

import "github.com/angelmondragon/shopbot-backend/pkg/env"

// GetID returns the worker instance identifier or a default value.
func GetID() string {
	return env.Get("SHOPBOT_WORKER_ID", "worker-0")
}
