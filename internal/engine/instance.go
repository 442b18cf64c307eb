// Package engine runs the scheduling core: the poller that claims due
// tasks, the executor pipeline that runs them, and the reaper that frees
// locks left behind by crashed replicas.
package engine

import (
	"fmt"
	"os"
)

// InstanceID identifies this replica in locks and execution logs. It must
// be stable for the process lifetime and distinct across replicas.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
