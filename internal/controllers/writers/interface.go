package writers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flavioribeiro/grainsmith/internal/entities"
)

// PacketWriter opens output files of one container family. Create refuses
// to replace an existing output unless the request consents, then stages
// everything in a temp file the sink renames into place on Finalize.
type PacketWriter interface {
	Match(req *entities.StreamRequest) bool
	Create(req *entities.StreamRequest, details *entities.VideoDetails) (PacketSink, error)
}

// PacketSink is one open output. Packets arrive in decode order with
// timestamps in the details time base. Finalize flushes, closes and moves
// the temp file onto the output path; Close without a Finalize discards
// the staged file. Close is safe to call after Finalize.
type PacketSink interface {
	WritePacket(p *entities.Packet) error
	Finalize() error
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

// stagePath checks overwrite consent for the output and names the temp
// file the sink writes to until Finalize.
func stagePath(req *entities.StreamRequest) (string, error) {
	if _, err := os.Stat(req.OutPath); err == nil {
		if !req.Overwrite {
			return "", fmt.Errorf("%w: %s", entities.ErrOutputExists, req.OutPath)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("error while checking output path: %w", err)
	}
	return req.OutPath + ".tmp", nil
}
