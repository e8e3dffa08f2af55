package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/dissect/dissect"
	"github.com/isdmx/dissect/loader"
	"github.com/isdmx/dissect/logger"
)

type inspectOptions struct {
	file     string
	root     string
	gets     []string
	sets     []string
	calls    []string
	jsonOut  bool
	engine   []dissect.Option
	fs       afero.Fs
	logLevel string
}

type inspectResult struct {
	Module   string         `json:"module" yaml:"module"`
	Exports  []string       `json:"exports" yaml:"exports"`
	Bindings map[string]any `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Calls    map[string]any `json:"calls,omitempty" yaml:"calls,omitempty"`
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Dissect a module and print its exports and bindings",
		Long: `Load <file> in dissected form and print its export names.

Bindings named with --get are read after every --set assignment has been
applied and every --call export has run. --set takes name=value where value
is JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := inspectOptions{file: args[0], fs: afero.NewOsFs()}
			opts.root, _ = cmd.Flags().GetString("root")
			opts.gets, _ = cmd.Flags().GetStringArray("get")
			opts.sets, _ = cmd.Flags().GetStringArray("set")
			opts.calls, _ = cmd.Flags().GetStringArray("call")
			opts.jsonOut, _ = cmd.Flags().GetBool("json")
			opts.logLevel, _ = cmd.Flags().GetString("log-level")

			replace, _ := cmd.Flags().GetBool("replace-const")
			clearCache, _ := cmd.Flags().GetBool("clear-cache")
			lowering, _ := cmd.Flags().GetString("lowering")
			mode, err := dissect.ParseLowering(lowering)
			if err != nil {
				return err
			}
			opts.engine = []dissect.Option{
				dissect.WithReplaceConstWithVar(replace),
				dissect.WithClearCache(clearCache),
				dissect.WithLowering(mode),
			}

			return runInspect(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().String("root", "", "Loader root directory (default: the file's directory)")
	cmd.Flags().StringArray("get", nil, "Binding to print (repeatable)")
	cmd.Flags().StringArray("set", nil, "Binding assignment name=json (repeatable)")
	cmd.Flags().StringArray("call", nil, "Exported function to call without arguments (repeatable)")
	cmd.Flags().Bool("replace-const", false, "Expose const and let declarations as bindings")
	cmd.Flags().Bool("clear-cache", false, "Evict the module from the cache after loading")
	cmd.Flags().String("lowering", string(dissect.LoweringLexical), "Lowering mode: lexical or textual")

	return cmd
}

func runInspect(out io.Writer, opts inspectOptions) error {
	log, err := logger.New(logger.ModeCLI, opts.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	file, err := filepath.Abs(opts.file)
	if err != nil {
		return err
	}
	root := opts.root
	if root == "" {
		root = filepath.Dir(file)
	}

	l, err := loader.New(log, loader.WithFS(opts.fs), loader.WithRoot(root))
	if err != nil {
		return err
	}
	engine := dissect.New(log, nil, opts.engine...)
	if err := engine.Install(l); err != nil {
		return err
	}

	h, err := engine.Load(file)
	if err != nil {
		return fmt.Errorf("failed to dissect %s: %w", opts.file, err)
	}
	log.Debug("module dissected", zap.String("module", file), zap.Strings("exports", h.Keys()))

	for _, assignment := range opts.sets {
		name, raw, ok := strings.Cut(assignment, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --set %q, expected name=json", assignment)
		}
		value, err := parseJSON(l.Runtime(), raw)
		if err != nil {
			return fmt.Errorf("invalid --set %q: %w", assignment, err)
		}
		if _, err := h.Set(name, value); err != nil {
			return err
		}
	}

	result := inspectResult{Module: file, Exports: h.Keys()}

	if len(opts.calls) > 0 {
		result.Calls = make(map[string]any, len(opts.calls))
		for _, name := range opts.calls {
			v, err := h.Call(name)
			if err != nil {
				return err
			}
			result.Calls[name] = dissect.Describe(v)
		}
	}

	if len(opts.gets) > 0 {
		result.Bindings = make(map[string]any, len(opts.gets))
		for _, name := range opts.gets {
			v, err := h.Get(name)
			if err != nil {
				return err
			}
			result.Bindings[name] = dissect.Describe(v)
		}
	}

	return writeOutput(out, opts.jsonOut, result)
}

func parseJSON(vm *goja.Runtime, raw string) (goja.Value, error) {
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not available")
	}
	return parse(goja.Undefined(), vm.ToValue(raw))
}

func writeOutput(out io.Writer, jsonOut bool, v any) error {
	if jsonOut {
		data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
