package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// main 是编排服务的主入口
func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
