package edge

import (
	"github.com/sirupsen/logrus"
)

// Log is a package-global logger used throughout the module. Configuration
// can be changed directly on this instance or the instance replaced.
var Log = logrus.New()

// connLogger builds the per-connection log context every listener flavour
// attaches to its request-handling log lines.
func connLogger(id string, ci ClientInfo) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"id":     id,
		"client": ci.SourceIP,
		"host":   ci.Host,
		"flag":   ci.Flag,
	})
}
