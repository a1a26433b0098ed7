// Package logging builds the structured logrus logger threaded
// through every component by constructor argument. Nothing in this
// module reaches for the logrus package-level functions directly;
// New returns an instance the caller owns.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Options controls the logger's verbosity and destination.
type Options struct {
	Level  logrus.Level
	Output *os.File
}

// DefaultOptions logs at info level to stdout.
func DefaultOptions() Options {
	return Options{Level: logrus.InfoLevel, Output: os.Stdout}
}

// New builds a logrus.Logger with a full-timestamp text formatter,
// matching the texture of every log line emitted across the module.
func New(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	log.SetOutput(output)
	log.SetLevel(opts.Level)
	return log
}

// Component returns a *logrus.Entry tagged with "component", the unit
// every logging collaborator (Agent, Receiver, Sender, ...) logs
// through.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
