package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// Key computes the content hash identifying the artifact a request produces.
//
// Every field is length-prefixed. Units are hashed in request order, which
// BuildUnits makes deterministic. Fields that only affect how the artifact is
// run (tags, stdin, args, timeouts, runtime convention, expectations) are not
// part of the key.
func Key(toolchainIdentity string, req types.BuildRequest) string {
	h := sha256.New()
	writeField(h, "toolchain")
	writeField(h, toolchainIdentity)

	writeField(h, "units")
	writeField(h, strconv.Itoa(len(req.Units)))
	for _, u := range req.Units {
		writeField(h, u.Module)
		deps := u.DepNames()
		writeField(h, strconv.Itoa(len(deps)))
		for _, d := range deps {
			writeField(h, d)
		}
		writeField(h, strconv.Itoa(len(u.Files)))
		for _, f := range u.Files {
			writeField(h, f.Path)
			writeField(h, f.Content)
		}
	}

	writeField(h, "main")
	writeField(h, req.MainModule)
	writeField(h, req.EntryPoint)

	if cfg := req.Config; cfg != nil {
		writeField(h, "pipeline")
		writeField(h, string(cfg.Frontend))
		writeField(h, string(cfg.ModuleKind))
		writeField(h, cfg.SessionMode)
		writeField(h, cfg.Backend)
		writeField(h, strconv.Itoa(len(cfg.CompilerArgs)))
		for _, arg := range cfg.CompilerArgs {
			writeField(h, arg)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
