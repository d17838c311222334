package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadDir loads every .cue file of the package in dir into one CUE value.
func LoadDir(dir string) (cue.Value, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, formatCUEError(inst.Err)
	}

	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// CompileSource compiles CUE source text. filename only labels positions.
func CompileSource(filename, src string) (cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// CompileAll compiles every store under the top-level `store` struct.
// Compile errors are collected; specs that compiled are still returned.
func CompileAll(v cue.Value) ([]*StoreSpec, []error) {
	storesVal := v.LookupPath(cue.ParsePath("store"))
	if !storesVal.Exists() {
		return nil, []error{&CompileError{Field: "store", Message: "no store definitions found"}}
	}

	iter, err := storesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		specs []*StoreSpec
		errs  []error
	)
	for iter.Next() {
		spec, err := CompileStore(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("store.%s: %w", strings.Trim(iter.Label(), `"`), err))
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}
