// Package logging configures process-wide structured logging.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the global logger to emit single-line JSON records at the
// requested level. Unknown level names fall back to info.
func Setup(level string) {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
