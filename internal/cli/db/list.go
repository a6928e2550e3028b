package db

import (
	"fmt"
	"io"
)

// ListCmd lists all available database schemas.
type ListCmd struct {
	Out io.Writer
}

// Run executes the list command.
func (c *ListCmd) Run() error {
	fmt.Fprintln(c.Out, "Available schemas:")
	for i, schema := range SchemaList {
		fmt.Fprintf(c.Out, "  [%2d] %s\n", i+1, schema)
	}
	return nil
}
