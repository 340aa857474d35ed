package stack

import (
	"fmt"

	"nvmcode-go/drivers/filenvm"
	"nvmcode-go/nvm"
	"nvmcode-go/nvm/fee"
	"nvmcode-go/nvm/ioblock"
	"nvmcode-go/nvm/partition"
)

// Built-in builders for the host-testable device types. Bus-attached leaves
// (SPI NOR, on-chip flash) need a live bus or flash controller and are
// registered by the firmware image that owns the hardware handles.
func init() {
	RegisterBuilder("file", BuilderFunc(buildFile))
	RegisterBuilder("mem", BuilderFunc(buildMem))
	RegisterBuilder("partition", BuilderFunc(buildPartition))
	RegisterBuilder("fee", BuilderFunc(buildFEE))
	RegisterBuilder("ioblock", BuilderFunc(buildIOBlock))
}

func buildFile(in BuildInput) (nvm.Device, error) {
	var p struct {
		Path       string `yaml:"path"`
		SectorSize uint32 `yaml:"sector_size"`
		SectorNum  uint32 `yaml:"sector_num"`
		Exclusive  bool   `yaml:"exclusive"`
	}
	if err := in.decode(&p); err != nil {
		return nil, err
	}
	return filenvm.New(filenvm.Config{
		Path:       p.Path,
		SectorSize: p.SectorSize,
		SectorNum:  p.SectorNum,
		Exclusive:  p.Exclusive,
	}), nil
}

func buildMem(in BuildInput) (nvm.Device, error) {
	var p struct {
		SectorSize uint32 `yaml:"sector_size"`
		SectorNum  uint32 `yaml:"sector_num"`
		Exclusive  bool   `yaml:"exclusive"`
	}
	if err := in.decode(&p); err != nil {
		return nil, err
	}
	return filenvm.NewMem(filenvm.MemConfig{
		SectorSize: p.SectorSize,
		SectorNum:  p.SectorNum,
		Exclusive:  p.Exclusive,
	}), nil
}

func buildPartition(in BuildInput) (nvm.Device, error) {
	if in.Parent == nil {
		return nil, fmt.Errorf("device %q: partition needs a parent", in.ID)
	}
	var p struct {
		SectorOffset uint32 `yaml:"sector_offset"`
		SectorNum    uint32 `yaml:"sector_num"`
		Exclusive    bool   `yaml:"exclusive"`
	}
	if err := in.decode(&p); err != nil {
		return nil, err
	}
	return partition.New(partition.Config{
		Parent:       in.Parent,
		SectorOffset: p.SectorOffset,
		SectorNum:    p.SectorNum,
		Exclusive:    p.Exclusive,
	}), nil
}

func buildFEE(in BuildInput) (nvm.Device, error) {
	if in.Parent == nil {
		return nil, fmt.Errorf("device %q: fee needs a parent", in.ID)
	}
	var p struct {
		SectorHeaderNum uint32 `yaml:"sector_header_num"`
		SlotPayloadSize uint32 `yaml:"slot_payload_size"`
		Exclusive       bool   `yaml:"exclusive"`
	}
	if err := in.decode(&p); err != nil {
		return nil, err
	}
	return fee.New(fee.Config{
		Parent:          in.Parent,
		SectorHeaderNum: p.SectorHeaderNum,
		SlotPayloadSize: p.SlotPayloadSize,
		Exclusive:       p.Exclusive,
	}), nil
}

func buildIOBlock(in BuildInput) (nvm.Device, error) {
	if in.Parent == nil {
		return nil, fmt.Errorf("device %q: ioblock needs a parent", in.ID)
	}
	var p struct {
		Exclusive bool `yaml:"exclusive"`
	}
	if err := in.decode(&p); err != nil {
		return nil, err
	}
	return ioblock.New(in.Parent, p.Exclusive), nil
}
