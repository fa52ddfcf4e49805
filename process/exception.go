package process

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// ParseException finds the runtime's uncaught-exception report in stderr. The
// report line reads "<marker><type>: <message>" or "<marker><type>". The
// first report wins.
func ParseException(stderr []byte, marker string) *types.ExceptionInfo {
	if marker == "" || !bytes.Contains(stderr, []byte(marker)) {
		return nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	scanner.Buffer(make([]byte, 0, 64*1024), len(stderr)+1)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		report := strings.TrimSpace(line[idx+len(marker):])
		info := &types.ExceptionInfo{Raw: strings.TrimSpace(line[idx:])}
		if typ, msg, ok := strings.Cut(report, ": "); ok && !strings.ContainsAny(typ, " \t") {
			info.Type = typ
			info.Message = msg
		} else {
			info.Type = report
		}
		return info
	}
	return nil
}
