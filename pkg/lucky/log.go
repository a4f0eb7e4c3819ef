package lucky

import (
	"go.uber.org/zap"
)

// log is quiet until the application hands us a real logger.
var log = zap.NewNop().Sugar()

// SetLogger routes this package's logging through l. Call it before
// starting any work.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		log = l
	}
}
