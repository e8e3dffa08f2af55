package dissect

import (
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/dissect/loader"
)

// targetKey tags a request with the file its compile step must rewrite
type targetKey struct{}

// Target returns the dissection target carried by req
func Target(req *loader.Request) (string, bool) {
	target, ok := req.Value(targetKey{}).(string)
	return target, ok && target != ""
}

// classify turns a marker specifier into the real one and tags the request
// with the resolved file. An unresolvable target leaves the request untagged;
// the loader's own resolution then reports the failure.
func (e *Engine) classify(req *loader.Request) error {
	if !strings.HasSuffix(req.Specifier, Marker) {
		return nil
	}
	req.Specifier = strings.TrimSuffix(req.Specifier, Marker) + SourceExtension

	target, err := e.loader.Resolve(req.Specifier, req.From)
	if err != nil {
		e.logger.Debug("dissection target does not resolve",
			zap.String("specifier", req.Original),
			zap.Error(err))
		return nil
	}

	req.SetValue(targetKey{}, target)
	e.logger.Debug("dissection requested",
		zap.String("specifier", req.Original),
		zap.String("target", target))
	return nil
}
