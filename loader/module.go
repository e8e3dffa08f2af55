package loader

import (
	"strconv"

	"github.com/dop251/goja"
)

// Module is the host's record of one loaded file
type Module struct {
	// ID is the canonical identity, the absolute path of the file or the builtin name
	ID string
	// Filename is the absolute path bound to __filename
	Filename string
	// Dir is the directory bound to __dirname and used for relative resolution
	Dir string
	// Loaded is set once the module body ran to completion
	Loaded bool
	// Parent is the module that first required this one, nil for requests from the host root
	Parent *Module
	// Children are the modules first loaded on behalf of this one, in the order their loads completed
	Children []*Module

	object   *goja.Object
	children *goja.Object
}

// Object returns the JavaScript `module` object
func (m *Module) Object() *goja.Object {
	return m.object
}

// Exports returns the current value of module.exports
func (m *Module) Exports() goja.Value {
	if m.object == nil {
		return goja.Undefined()
	}
	v := m.object.Get("exports")
	if v == nil {
		return goja.Undefined()
	}
	return v
}

func (l *Loader) newModule(id, dir string, parent *Module) *Module {
	mod := &Module{
		ID:       id,
		Filename: id,
		Dir:      dir,
		Parent:   parent,
	}

	obj := l.vm.NewObject()
	_ = obj.Set("id", id)
	_ = obj.Set("filename", id)
	_ = obj.Set("path", dir)
	_ = obj.Set("loaded", false)
	_ = obj.Set("exports", l.vm.NewObject())
	if parent != nil && parent.object != nil {
		_ = obj.Set("parent", parent.object)
	} else {
		_ = obj.Set("parent", goja.Null())
	}
	mod.children = l.vm.NewArray()
	_ = obj.Set("children", mod.children)
	mod.object = obj
	_ = obj.Set("require", l.makeRequire(mod))

	return mod
}

func (m *Module) addChild(child *Module) {
	m.Children = append(m.Children, child)
	_ = m.children.Set(strconv.Itoa(len(m.Children)-1), child.object)
}

func (m *Module) markLoaded() {
	m.Loaded = true
	_ = m.object.Set("loaded", true)
}
