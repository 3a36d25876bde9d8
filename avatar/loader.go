package avatar

import (
	"context"
	"fmt"
	"os"
)

// FileLoader loads an avatar by reading its file into memory.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(ctx context.Context, a *Avatar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return fmt.Errorf("failed to read avatar: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("avatar file %s is empty", a.Path)
	}
	a.data = data
	return nil
}
