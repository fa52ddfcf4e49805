package compiler

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

var diagnosticRegex = regexp.MustCompile(`^(?:(.+?):(\d+):(\d+): )?(error|warning|info|exception): (.*)$`)

// ParseDiagnostics extracts compiler messages from raw compiler output.
// Paths under srcRoot are made relative to it. Lines that do not look like a
// diagnostic are ignored.
func ParseDiagnostics(output string, srcRoot string) []types.Diagnostic {
	var diags []types.Diagnostic
	scanner := bufio.NewScanner(strings.NewReader(stripansi.Strip(output)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		m := diagnosticRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d := types.Diagnostic{
			File:     relativeTo(m[1], srcRoot),
			Severity: m[4],
			Message:  m[5],
		}
		d.Line, _ = strconv.Atoi(m[2])
		d.Column, _ = strconv.Atoi(m[3])
		diags = append(diags, d)
	}
	return diags
}

func relativeTo(path, root string) string {
	if root == "" || path == "" {
		return path
	}
	prefix := strings.TrimSuffix(root, "/") + "/"
	return strings.TrimPrefix(path, prefix)
}
