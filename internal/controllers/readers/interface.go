package readers

import (
	"path/filepath"
	"strings"

	"github.com/flavioribeiro/grainsmith/internal/entities"
)

// PacketReader opens input files of one container family. Readers carry no
// per file state; that lives in the PacketSource they hand out, so a single
// reader can serve both inputs of a diff run.
type PacketReader interface {
	Match(req *entities.StreamRequest) bool
	Open(path string) (PacketSource, error)
}

// PacketSource is one open input. ReadPacket fills p with the next temporal
// unit in decode order and returns io.EOF after the last one. Close is safe
// to call more than once.
type PacketSource interface {
	Details() *entities.VideoDetails
	ReadPacket(p *entities.Packet) error
	Close() error
}

func matchExt(path string, exts ...string) bool {
	got := strings.ToLower(filepath.Ext(path))
	for _, ext := range exts {
		if got == ext {
			return true
		}
	}
	return false
}
