package logger

import (
	"io"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// InitLogger initializes the global logrus logger.
// errors and warnings go to stderr, everything else to stdout.
// log level is read from the LOG_LEVEL env variable (logrus numeric levels).
func InitLogger() {
	log.SetOutput(io.Discard)

	log.AddHook(&writer.Hook{
		Writer: os.Stderr,
		LogLevels: []log.Level{
			log.PanicLevel,
			log.FatalLevel,
			log.ErrorLevel,
			log.WarnLevel,
		},
	})

	log.AddHook(&writer.Hook{
		Writer: os.Stdout,
		LogLevels: []log.Level{
			log.TraceLevel,
			log.InfoLevel,
			log.DebugLevel,
		},
	})

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	levelVar := os.Getenv("LOG_LEVEL")
	if levelVar == "" {
		log.SetLevel(log.InfoLevel)

		return
	}

	logLevel, err := strconv.ParseUint(levelVar, 10, 32)
	if err != nil || logLevel > uint64(log.TraceLevel) {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(log.Level(logLevel))
	}
}
