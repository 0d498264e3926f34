package assets

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

const spirvMagic = 0x07230203

var ErrInvalidShader = errors.New("not a SPIR-V module")

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (*Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidShader, "%d bytes", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != spirvMagic {
		return nil, errors.Wrapf(ErrInvalidShader, "magic %#08x", magic)
	}
	return &Asset{FullPath: path, Kind: KindShader, Data: data}, nil
}
