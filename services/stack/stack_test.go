package stack

import (
	"strings"
	"testing"

	"nvmcode-go/nvm"
)

const demoYAML = `
devices:
  - id: raw
    type: mem
    params:
      sector_size: 64
      sector_num: 8
  - id: store
    type: partition
    parent: raw
    params:
      sector_offset: 0
      sector_num: 4
  - id: eeprom
    type: fee
    parent: store
`

func mustLoad(t *testing.T, doc string) *Config {
	t.Helper()
	cfg, err := Load([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLoadAndValidate(t *testing.T) {
	cfg := mustLoad(t, demoYAML)
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Devices) != 3 {
		t.Fatalf("got %d devices", len(cfg.Devices))
	}
	if cfg.Devices[2].Parent != "store" {
		t.Fatalf("parent = %q", cfg.Devices[2].Parent)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", `devices: []`, "no devices"},
		{"duplicate id", `
devices:
  - {id: a, type: mem}
  - {id: a, type: mem}
`, "duplicate"},
		{"unknown type", `
devices:
  - {id: a, type: floppy}
`, "unknown type"},
		{"missing parent", `
devices:
  - {id: a, type: fee, parent: nope}
`, "not defined"},
		{"self parent", `
devices:
  - {id: a, type: fee, parent: a}
`, "its own parent"},
		{"cycle", `
devices:
  - {id: a, type: fee, parent: b}
  - {id: b, type: fee, parent: a}
`, "cycle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(mustLoad(t, tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestBuildEndToEnd(t *testing.T) {
	s, err := Build(mustLoad(t, demoYAML))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ee, ok := s.Device("eeprom")
	if !ok {
		t.Fatal("eeprom not built")
	}
	if st := ee.State(); st != nvm.Ready {
		t.Fatalf("state = %v, want ready", st)
	}

	if err := ee.Write(3, []byte{0x42}); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 1)
	if err := ee.Read(3, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x42 {
		t.Fatalf("read back %#x", got[0])
	}

	// the emulation layer advertises byte granularity
	info, err := ee.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.SectorSize != 1 {
		t.Fatalf("fee sector size = %d", info.SectorSize)
	}
}

func TestBuildOrderIsParentsFirst(t *testing.T) {
	// children listed before their parents must still build
	doc := `
devices:
  - id: eeprom
    type: fee
    parent: raw
  - id: raw
    type: mem
    params: {sector_size: 64, sector_num: 4}
`
	s, err := Build(mustLoad(t, doc))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.order[0] != "raw" || s.order[1] != "eeprom" {
		t.Fatalf("order = %v", s.order)
	}
}

func TestBuildFailureStopsStartedDevices(t *testing.T) {
	// fee rejects an odd parent sector count, after raw already started
	doc := `
devices:
  - id: raw
    type: mem
    params: {sector_size: 64, sector_num: 3}
  - id: eeprom
    type: fee
    parent: raw
`
	if _, err := Build(mustLoad(t, doc)); err == nil {
		t.Fatal("expected build error")
	}
}

func TestCloseStopsChildrenFirst(t *testing.T) {
	s, err := Build(mustLoad(t, demoYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	raw, _ := s.Device("raw")
	if st := raw.State(); st != nvm.Stop {
		t.Fatalf("raw state = %v, want stop", st)
	}
}
