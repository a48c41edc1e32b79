package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/navq/internal/ir"
)

// LoadModel compiles a model from a single .cue file or from every .cue
// file of a directory (one CUE package).
func LoadModel(path string) (*ir.ModelSpec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model not found: %w", err)
	}

	ctx := cuecontext.New()
	var value cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("no CUE instances in %s", path)
		}
		inst := instances[0]
		if inst.Err != nil {
			return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
		}
		value = ctx.BuildInstance(inst)
	} else {
		if filepath.Ext(path) != ".cue" {
			return nil, fmt.Errorf("not a CUE file: %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model: %w", err)
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
	}

	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileModel(value)
}
