package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Production uses JSON lines, everything else text.
func New(production bool, level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stdout
	if production {
		log.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	} else {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
