package bootstrap

import (
	"strings"

	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
)

// NewLogger builds the process logger from the log section and installs it
// as the package default.
func NewLogger(cfg config.LogConfig, service string) (logging.Logger, error) {
	lc := logging.LogConfig{
		Level:       cfg.Level,
		Format:      cfg.Format,
		Sampling:    cfg.Sampling,
		ServiceName: service,
	}
	if out := strings.TrimSpace(cfg.Output); out != "" {
		lc.OutputPaths = strings.Split(out, ",")
	}
	log, err := logging.NewLogger(lc)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(log)
	return log, nil
}
