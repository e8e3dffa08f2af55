package dissect

import (
	"go.uber.org/zap"

	"github.com/isdmx/dissect/loader"
)

// afterLoad runs once the loader is done with a request, whether it failed or not.
// With ClearCache it evicts the dissected file so the next request re-executes it.
func (e *Engine) afterLoad(req *loader.Request, err error) {
	target, ok := Target(req)
	if !ok {
		return
	}
	defer req.DeleteValue(targetKey{})

	if err != nil {
		e.logger.Debug("dissected load failed", zap.String("target", target), zap.Error(err))
	}

	if e.opts.ClearCache {
		e.loader.Evict(target)
	}
}
