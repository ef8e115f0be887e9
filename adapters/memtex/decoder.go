package memtex

import (
	"context"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// Ext is the file extension of baked MTEX containers.
const Ext = ".mtex"

// Decoder loads MTEX containers for the registry.
type Decoder struct{}

func NewDecoder() *Decoder { return &Decoder{} }

func (d *Decoder) CanDecode(ext string) bool { return ext == Ext }

func (d *Decoder) Decode(ctx context.Context, path string) (core.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "memtex.decode", err)
	}
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	return t, nil
}
