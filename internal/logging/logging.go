package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// New returns a slog.Logger with the provided level string (info, debug,
// warn, error). format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of a processing job.
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath, outputPath string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"output", outputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogDrift logs a per-frame alignment estimate at debug level.
func LogDrift(logger *slog.Logger, sessionID string, dx, dy, confidence float64) {
	logger.Debug("drift estimated",
		"session", sessionID,
		"dx", dx,
		"dy", dy,
		"confidence", confidence,
	)
}

// LogCapture logs a merge into the focus accumulator.
func LogCapture(logger *slog.Logger, sessionID string, width, height int, offsetX, offsetY float64) {
	logger.Info("frame captured",
		"session", sessionID,
		"width", width,
		"height", height,
		"offset_x", offsetX,
		"offset_y", offsetY,
	)
}
