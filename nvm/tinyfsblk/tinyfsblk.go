// Package tinyfsblk adapts an nvm.Device to the tinyfs block-device
// interface, so littlefs or FAT can be mounted on any leaf or composite
// of the storage tree.
package tinyfsblk

import (
	"tinygo.org/x/tinyfs"

	"nvmcode-go/errcode"
	"nvmcode-go/nvm"
)

// Blk is the adapter. The wrapped device must already be started; tinyfs
// has no lifecycle of its own.
type Blk struct {
	dev  nvm.Device
	info nvm.Info
}

var _ tinyfs.BlockDevice = (*Blk)(nil)

// Wrap snapshots the device descriptor and returns the adapter.
func Wrap(dev nvm.Device) (*Blk, error) {
	info, err := dev.Info()
	if err != nil {
		return nil, err
	}
	return &Blk{dev: dev, info: info}, nil
}

func (b *Blk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(b.info.Capacity()) {
		return 0, errcode.Range
	}
	if err := b.dev.Read(uint32(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *Blk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(b.info.Capacity()) {
		return 0, errcode.Range
	}
	if err := b.dev.Write(uint32(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *Blk) Size() int64 { return int64(b.info.Capacity()) }

// WriteBlockSize is the programming granule. Byte-writable devices
// (WriteAlign 0) report 1.
func (b *Blk) WriteBlockSize() int64 {
	if b.info.WriteAlign == 0 {
		return 1
	}
	return int64(b.info.WriteAlign)
}

func (b *Blk) EraseBlockSize() int64 { return int64(b.info.SectorSize) }

// EraseBlocks erases len erase-blocks starting at block index start.
func (b *Blk) EraseBlocks(start, len int64) error {
	if start < 0 || len < 0 {
		return errcode.Range
	}
	return b.dev.Erase(uint32(start)*b.info.SectorSize, uint32(len)*b.info.SectorSize)
}
