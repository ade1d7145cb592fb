package dnp3

import (
	"io"

	"avaneesh/dnp3-bridge/internal/logger"
)

// ConfigureLogging installs the process wide logger writing to w
func ConfigureLogging(w io.Writer, level string, frameDebug bool) (logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(w, lvl)
	logger.SetDefault(log)
	logger.SetFrameDebug(frameDebug)
	return log, nil
}
