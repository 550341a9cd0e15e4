package cli

import (
	"context"
	"fmt"

	"github.com/haatos/multici/internal"
)

// VersionCmd is the 'multici version' command.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Printf("%s %s\n", internal.AppName, internal.Version)
	return nil
}
