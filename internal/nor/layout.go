package nor

import "fmt"

// Layout sizes the partitions of the image. They are placed in order:
// nvs, otadata, ota_0, ota_1.
type Layout struct {
	SectorSize  uint32
	NVSSize     uint32
	OTADataSize uint32
	SlotSize    uint32
}

func DefaultLayout() Layout {
	return Layout{
		SectorSize:  DefaultSectorSize,
		NVSSize:     4 * DefaultSectorSize,
		OTADataSize: 2 * DefaultSectorSize,
		SlotSize:    1 << 20,
	}
}

// Size is the total image size.
func (l Layout) Size() uint32 {
	return l.NVSSize + l.OTADataSize + 2*l.SlotSize
}

func (l Layout) Validate() error {
	if l.SectorSize == 0 || l.SectorSize%WordSize != 0 {
		return fmt.Errorf("invalid sector size %d", l.SectorSize)
	}
	for _, p := range []struct {
		name    string
		size    uint32
		sectors uint32
	}{
		{"nvs", l.NVSSize, 2},
		{"otadata", l.OTADataSize, 2},
		{"ota slot", l.SlotSize, 1},
	} {
		if p.size%l.SectorSize != 0 {
			return fmt.Errorf("%s size %d is not a multiple of sector size %d", p.name, p.size, l.SectorSize)
		}
		if p.size < p.sectors*l.SectorSize {
			return fmt.Errorf("%s needs at least %d sectors", p.name, p.sectors)
		}
	}
	return nil
}

// Partitions is a mounted layout.
type Partitions struct {
	// State and Config split the nvs partition one sector each.
	State   *Partition
	Config  *Partition
	OTAData *Partition
	Slots   [2]*Partition
}

// Mount carves d into the layout's partitions.
func (l Layout) Mount(d *Device) (*Partitions, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.SectorSize != d.SectorSize() {
		return nil, fmt.Errorf("layout sector size %d does not match device %d", l.SectorSize, d.SectorSize())
	}
	if l.Size() > d.Size() {
		return nil, fmt.Errorf("layout needs %d bytes, device has %d", l.Size(), d.Size())
	}

	var off uint32
	next := func(label string, size uint32) *Partition {
		p := &Partition{dev: d, label: label, offset: off, size: size}
		off += size
		return p
	}

	nvs := next("nvs", l.NVSSize)
	return &Partitions{
		State:   &Partition{dev: d, label: "nvs.state", offset: nvs.offset, size: l.SectorSize},
		Config:  &Partition{dev: d, label: "nvs.config", offset: nvs.offset + l.SectorSize, size: l.SectorSize},
		OTAData: next("otadata", l.OTADataSize),
		Slots:   [2]*Partition{next("ota_0", l.SlotSize), next("ota_1", l.SlotSize)},
	}, nil
}
