//go:build tools

// Package tools pins lint and test tooling versions in go.mod.
package tools

import (
	_ "golang.org/x/tools/cmd/goimports"
	_ "golang.org/x/vuln/cmd/govulncheck"
	_ "gotest.tools/gotestsum"
	_ "honnef.co/go/tools/cmd/staticcheck"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
