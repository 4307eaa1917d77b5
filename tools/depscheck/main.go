package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// kernelPackages are the pure timeline packages. They must stay oblivious to
// the hub, the logging router and the websocket transport so they can be
// copied per branch and tested without wiring.
var kernelPackages = []string{
	"./internal/chrono/...",
	"./internal/eventline/...",
	"./internal/spatial/...",
	"./internal/journal/...",
}

var forbiddenPrefixes = []string{
	"ebb-and-flow/server/internal/net",
	"ebb-and-flow/server/internal/viewer",
	"ebb-and-flow/server/logging",
	"github.com/gorilla/websocket",
}

func forbidden(imp string) bool {
	if imp == "ebb-and-flow/server" {
		return true
	}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(imp, prefix) {
			return true
		}
	}
	return false
}

func main() {
	args := append([]string{"list", "-json"}, kernelPackages...)
	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	decoder := json.NewDecoder(bytes.NewReader(output))

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
			os.Exit(1)
		}

		for _, imp := range pkg.Imports {
			if forbidden(imp) {
				violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}
