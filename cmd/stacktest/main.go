// cmd/stacktest/main.go
//
// Host smoke tool for the NVM stack. Builds a device tree from a YAML
// config (or a built-in file-backed demo stack), then exercises every
// device in it: descriptor dump, write/read round trip, erase semantics,
// and a micro-write burst on emulation layers.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"nvmcode-go/nvm"
	"nvmcode-go/services/stack"
)

const demoConfig = `
devices:
  - id: raw
    type: file
    params:
      path: %q
      sector_size: 4096
      sector_num: 16
  - id: boot
    type: partition
    parent: raw
    params: {sector_offset: 0, sector_num: 8}
  - id: eeprom-raw
    type: partition
    parent: raw
    params: {sector_offset: 8, sector_num: 8}
  - id: eeprom
    type: fee
    parent: eeprom-raw
`

func main() {
	cfgPath := flag.String("config", "", "stack YAML; empty runs the built-in demo stack")
	flag.Parse()

	var cfg *stack.Config
	var err error
	if *cfgPath != "" {
		cfg, err = stack.LoadFile(*cfgPath)
	} else {
		path := filepath.Join(os.TempDir(), "stacktest.img")
		fmt.Println("stacktest: demo stack on", path)
		cfg, err = stack.Load([]byte(fmt.Sprintf(demoConfig, path)))
	}
	if err != nil {
		fatal(err)
	}

	s, err := stack.Build(cfg)
	if err != nil {
		fatal(err)
	}
	defer s.Close()

	pass, fail := 0, 0
	check := func(id, what string, err error) {
		if err != nil {
			fail++
			fmt.Printf("FAIL %-12s %-14s %v\n", id, what, err)
		} else {
			pass++
			fmt.Printf("ok   %-12s %s\n", id, what)
		}
	}

	isParent := map[string]bool{}
	for _, d := range cfg.Devices {
		if d.Parent != "" {
			isParent[d.Parent] = true
		}
	}

	for _, d := range cfg.Devices {
		dev, ok := s.Device(d.ID)
		if !ok {
			fatal(fmt.Errorf("device %q not built", d.ID))
		}
		info, err := dev.Info()
		check(d.ID, "descriptor", err)
		if err != nil {
			continue
		}
		fmt.Printf("     %-12s id=%q sectors=%d x %d B align=%d cap=%d B\n",
			d.ID, string(info.Identification[:]), info.SectorNum,
			info.SectorSize, info.WriteAlign, info.Capacity())

		// writing into a device would corrupt whatever is stacked on it
		if isParent[d.ID] {
			continue
		}
		check(d.ID, "round trip", roundTrip(dev, info))
		check(d.ID, "erase", eraseCheck(dev, info))
		if info.SectorSize == 1 {
			check(d.ID, "write burst", burst(dev))
		}
	}

	fmt.Printf("stacktest: %d ok, %d failed\n", pass, fail)
	if fail > 0 {
		os.Exit(1)
	}
}

func roundTrip(d nvm.Device, info nvm.Info) error {
	d.Acquire()
	defer d.Release()

	pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	addr := info.SectorSize // second sector, clear of any header
	if err := d.Erase(addr, info.SectorSize); err != nil {
		return err
	}
	if err := d.Write(addr, pattern); err != nil {
		return err
	}
	got := make([]byte, len(pattern))
	if err := d.Read(addr, got); err != nil {
		return err
	}
	if !bytes.Equal(got, pattern) {
		return fmt.Errorf("read back % x, want % x", got, pattern)
	}
	return d.Sync()
}

func eraseCheck(d nvm.Device, info nvm.Info) error {
	d.Acquire()
	defer d.Release()

	addr := info.SectorSize
	if err := d.Erase(addr, info.SectorSize); err != nil {
		return err
	}
	got := make([]byte, min(info.SectorSize, 64))
	if err := d.Read(addr, got); err != nil {
		return err
	}
	for i, b := range got {
		if b != 0xFF {
			return fmt.Errorf("byte %d is %#x after erase", i, b)
		}
	}
	return nil
}

// burst hammers one byte the way a counter variable would; on emulation
// layers this exercises slot appends and at least one compaction.
func burst(d nvm.Device) error {
	d.Acquire()
	defer d.Release()

	for i := 0; i < 5000; i++ {
		if err := d.Write(0, []byte{byte(i)}); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
	}
	got := make([]byte, 1)
	if err := d.Read(0, got); err != nil {
		return err
	}
	if got[0] != byte(4999%256) {
		return fmt.Errorf("final byte %#x", got[0])
	}
	return nil
}

func min(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "stacktest:", err)
	os.Exit(1)
}
