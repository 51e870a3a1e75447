package logging

import (
	"go.uber.org/zap"
)

// New builds the process logger. Production gets JSON output and info level,
// everything else gets the human-readable development config.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
