// +build !linux

package platformx

import (
	"github.com/aoimidori27/flowgrind/logging"
)

func maybeEmitWarning() {
	logging.Logger.Warn("This platform is not officially supported. Flows will be established with reduced functionality: no path MTU discovery, no congestion control introspection.")
}
