package config

import (
	"context"
	"runtime"

	"go.uber.org/zap"
)

func init() {
	if BoolValue("RUNLOG_DEBUG") {
		LogDebug(context.Background(), "runlog config initialized with environment variable defaults",
			zap.String("arch", runtime.GOARCH),
			zap.String("os", runtime.GOOS))
	}
}
