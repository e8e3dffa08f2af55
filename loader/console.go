package loader

import (
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// setupGlobals installs the process-wide bindings every module sees
func (l *Loader) setupGlobals() error {
	global := l.vm.GlobalObject()
	if err := global.Set("global", global); err != nil {
		return err
	}

	console := l.vm.NewObject()
	levels := map[string]zapcore.Level{
		"log":   zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for name, level := range levels {
		if err := console.Set(name, l.makeConsoleFunc(name, level)); err != nil {
			return err
		}
	}
	return global.Set("console", console)
}

// makeConsoleFunc creates a console function that writes to the loader's logger
func (l *Loader) makeConsoleFunc(name string, level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}

		if ce := l.logger.Check(level, strings.Join(parts, " ")); ce != nil {
			ce.Write(zap.String("source", "console."+name))
		}
		return goja.Undefined()
	}
}
