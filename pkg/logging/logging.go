// Package logging wires zerolog into the pipeline's Logger interface.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger at the given level. Pretty enables console
// output for development; otherwise JSON goes to stdout.
func New(level string, pretty bool) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	if pretty {
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		return zerolog.New(output).Level(logLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(logLevel).With().Timestamp().Logger()
}

// Adapter exposes a zerolog logger through the pipeline's Logger interface.
type Adapter struct {
	log zerolog.Logger
}

func NewAdapter(log zerolog.Logger) *Adapter {
	return &Adapter{log: log}
}

func (a *Adapter) Debug(msg string, args ...interface{}) { a.emit(a.log.Debug(), msg, args) }
func (a *Adapter) Info(msg string, args ...interface{})  { a.emit(a.log.Info(), msg, args) }
func (a *Adapter) Warn(msg string, args ...interface{})  { a.emit(a.log.Warn(), msg, args) }
func (a *Adapter) Error(msg string, args ...interface{}) { a.emit(a.log.Error(), msg, args) }

// emit folds alternating key/value args into zerolog fields.
func (a *Adapter) emit(ev *zerolog.Event, msg string, args []interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
