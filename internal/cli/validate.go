package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/haatos/multici/internal/loader"
	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/types"
)

// ValidateCmd is the 'multici validate' command.
type ValidateCmd struct {
	File string `arg:"" help:"Pipeline file (.yml, .yaml or .hcl)." type:"existingfile"`
}

func (c *ValidateCmd) Run(ctx context.Context) error {
	p, err := loader.Load(c.File)
	if err != nil {
		return err
	}
	return validatePipeline(os.Stdout, p)
}

// validatePipeline plans every workflow of p and prints its layers. All
// planning errors are reported together.
func validatePipeline(w io.Writer, p *types.Pipeline) error {
	registry, err := service.NewRegistryFromPipeline(p)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range p.WorkflowNames() {
		plan, err := service.PlanWorkflow(p, registry, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %q: %w", name, err))
			continue
		}
		fmt.Fprintf(w, "workflow %s\n", name)
		for i, layer := range plan.Layers {
			fmt.Fprintf(w, "  layer %d: %s\n", i+1, strings.Join(layer, ", "))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d commands, %d jobs, %d workflows\n",
		len(registry.Names()), len(p.Jobs), len(p.Workflows))
	return nil
}
