package nor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/flash"
)

var _ flash.Updater = (*BootManager)(nil)

const (
	otadataMagic uint32 = 0x0DA7A0B7
	entrySize           = 16
)

// BootState is the verification state of the selected slot.
type BootState uint8

const (
	// BootNew is written by Activate. The next boot moves it to BootPendingVerify.
	BootNew BootState = iota + 1
	// BootPendingVerify means the slot has booted once and not yet been confirmed.
	// Booting again in this state rolls back to the other slot.
	BootPendingVerify
	BootValid
)

func (s BootState) String() string {
	switch s {
	case BootNew:
		return "new"
	case BootPendingVerify:
		return "pending_verify"
	case BootValid:
		return "valid"
	default:
		return fmt.Sprintf("boot_state(%d)", uint8(s))
	}
}

type entry struct {
	seq   uint32
	slot  uint8
	state BootState
}

func (e entry) encode() []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:], otadataMagic)
	binary.LittleEndian.PutUint32(buf[4:], e.seq)
	buf[8] = e.slot
	buf[9] = uint8(e.state)
	buf[10], buf[11] = 0xFF, 0xFF
	binary.LittleEndian.PutUint32(buf[12:], crc32.ChecksumIEEE(buf[:12]))
	return buf
}

func decodeEntry(buf []byte) (entry, bool) {
	if binary.LittleEndian.Uint32(buf[0:]) != otadataMagic {
		return entry{}, false
	}
	if crc32.ChecksumIEEE(buf[:12]) != binary.LittleEndian.Uint32(buf[12:]) {
		return entry{}, false
	}
	e := entry{seq: binary.LittleEndian.Uint32(buf[4:]), slot: buf[8], state: BootState(buf[9])}
	if e.slot > 1 || e.state < BootNew || e.state > BootValid {
		return entry{}, false
	}
	return e, true
}

// BootManager selects the firmware slot through two otadata copies.
// The copy with the highest sequence number wins; updates always go to the other copy.
type BootManager struct {
	mu      sync.Mutex
	otadata *Partition
	slots   [2]*Partition
	current entry
	// activated is set once an update has been selected for the next boot.
	activated bool
}

// Boot reads otadata and performs the boot-time transition: a freshly activated
// slot becomes pending verification, and a slot that was already pending is
// rolled back.
func Boot(otadata *Partition, slots [2]*Partition) (*BootManager, error) {
	m := &BootManager{otadata: otadata, slots: slots}

	cur, ok, err := m.read()
	if err != nil {
		return nil, err
	}
	if !ok {
		m.current = entry{slot: 0, state: BootValid}
		log.Info().Str("slot", slots[0].Label()).Msg("No otadata found, booting first slot")
		return m, nil
	}
	m.current = cur

	switch cur.state {
	case BootNew:
		if err := m.commit(entry{seq: cur.seq + 1, slot: cur.slot, state: BootPendingVerify}); err != nil {
			return nil, err
		}
		log.Info().Str("slot", m.Running().Label()).Msg("Booting updated slot, pending verification")
	case BootPendingVerify:
		from := m.Running().Label()
		if err := m.commit(entry{seq: cur.seq + 1, slot: 1 - cur.slot, state: BootValid}); err != nil {
			return nil, err
		}
		log.Warn().Str("from", from).Str("to", m.Running().Label()).Msg("Unverified slot booted twice, rolled back")
	default:
		log.Info().Str("slot", m.Running().Label()).Uint32("seq", cur.seq).Msg("Booting slot")
	}
	return m, nil
}

// Running reports the slot the device booted from.
func (m *BootManager) Running() *Partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[m.current.slot]
}

// State reports the verification state of the running slot.
func (m *BootManager) State() BootState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.state
}

// Next returns the slot an update should be written to.
func (m *BootManager) Next() *Partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[1-m.current.slot]
}

func (m *BootManager) NextPartition() (flash.Partition, error) {
	return m.Next(), nil
}

// Activate selects p for the next boot, pending verification.
func (m *BootManager) Activate(p flash.Partition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := -1
	for i, s := range m.slots {
		if s.Label() == p.Label() {
			slot = i
		}
	}
	if slot < 0 {
		return fmt.Errorf("unknown partition %q", p.Label())
	}
	if uint8(slot) == m.current.slot {
		return errors.New("cannot activate the running slot")
	}
	e := entry{seq: m.current.seq + 1, slot: uint8(slot), state: BootNew}
	if err := m.persist(e); err != nil {
		return err
	}
	m.current.seq = e.seq
	m.activated = true
	return nil
}

// Pending reports whether the running slot still needs MarkValid.
func (m *BootManager) Pending() bool {
	return m.State() == BootPendingVerify
}

// MarkValid confirms the running slot. It is a no-op unless verification is
// pending and no update has been activated since boot.
func (m *BootManager) MarkValid() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.state != BootPendingVerify || m.activated {
		return nil
	}
	e := entry{seq: m.current.seq + 1, slot: m.current.slot, state: BootValid}
	if err := m.persist(e); err != nil {
		return err
	}
	m.current = e
	return nil
}

func (m *BootManager) read() (entry, bool, error) {
	var (
		best  entry
		found bool
	)
	sector := m.otadata.SectorSize()
	buf := make([]byte, entrySize)
	for i := uint32(0); i < 2; i++ {
		if err := m.otadata.ReadAt(buf, i*sector); err != nil {
			return entry{}, false, fmt.Errorf("failed to read otadata: %w", err)
		}
		e, ok := decodeEntry(buf)
		if ok && (!found || e.seq > best.seq) {
			best, found = e, true
		}
	}
	return best, found, nil
}

// commit persists e and makes it the running entry.
func (m *BootManager) commit(e entry) error {
	if err := m.persist(e); err != nil {
		return err
	}
	m.current = e
	return nil
}

// persist replaces the otadata copy that does not hold the current sequence number.
func (m *BootManager) persist(e entry) error {
	off := (e.seq % 2) * m.otadata.SectorSize()
	if err := m.otadata.Erase(off, m.otadata.SectorSize()); err != nil {
		return fmt.Errorf("failed to erase otadata: %w", err)
	}
	if err := m.otadata.Write(off, e.encode()); err != nil {
		return fmt.Errorf("failed to write otadata: %w", err)
	}
	return nil
}
