package reaper

import (
	"fmt"
	"os"
)

func listDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func sprintfSafe(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
