package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
)

// record is the fixed little-endian layout written to non-volatile memory.
type record struct {
	Magic                    uint16
	Mode                     uint8
	RequestedMode            uint8
	OffMode                  uint8
	OverriddenMode           uint8
	Override                 bool
	OverrideEndTimeEstimated bool
	ValveOpen                bool
	ValveCloseTimeEstimated  bool
	LowBattery               bool
	LowBatteryTimeEstimated  bool
	LastValveStatus          uint8
	ValveSupplyVoltage       uint16
	TotalOpenCount           uint16
	ValveResistance          uint16
	MaxValveResistance       uint16
	Boottime                 int16
	DefaultDuration          uint16
	DowntimeScale            uint16
	BatteryOffset            int16
	ActivityProgramID        uint32
	Downtime                 uint32
	LastDowntime             uint32
	TotalOpenDuration        uint32
	ValveOpenTime            uint64
	ValveCloseTime           uint64
	LastShutdownTime         uint64
	OverrideEndTime          uint64
	LowBatteryTime           uint64
	LeaseIP                  [4]byte
	LeaseGateway             [4]byte
	LeasePrefix              uint8
	ActivityCount            uint8
	Activities               [MaxActivities]activityRecord
}

type activityRecord struct {
	Day       uint8
	StartTime uint16
	Duration  uint16
}

// RecordSize is the encoded size of a PersistentState in bytes.
var RecordSize = binary.Size(record{})

// MarshalBinary encodes the state in its fixed layout.
func (s *PersistentState) MarshalBinary() ([]byte, error) {
	rec := record{
		Magic:                    s.Magic,
		Mode:                     uint8(s.Mode),
		RequestedMode:            uint8(s.RequestedMode),
		OffMode:                  uint8(s.OffMode),
		OverriddenMode:           uint8(s.OverriddenMode),
		Override:                 s.Override,
		OverrideEndTimeEstimated: s.OverrideEndTimeEstimated,
		ValveOpen:                s.ValveOpen,
		ValveCloseTimeEstimated:  s.ValveCloseTimeEstimated,
		LowBattery:               s.LowBattery,
		LowBatteryTimeEstimated:  s.LowBatteryTimeEstimated,
		LastValveStatus:          uint8(s.LastValveStatus),
		ValveSupplyVoltage:       s.ValveSupplyVoltage,
		TotalOpenCount:           s.TotalOpenCount,
		ValveResistance:          s.ValveResistance,
		MaxValveResistance:       s.MaxValveResistance,
		Boottime:                 s.Boottime,
		DefaultDuration:          s.DefaultDuration,
		DowntimeScale:            s.DowntimeScale,
		BatteryOffset:            s.BatteryOffset,
		ActivityProgramID:        s.ActivityProgramID,
		Downtime:                 s.Downtime,
		LastDowntime:             s.LastDowntime,
		TotalOpenDuration:        s.TotalOpenDuration,
		ValveOpenTime:            s.ValveOpenTime,
		ValveCloseTime:           s.ValveCloseTime,
		LastShutdownTime:         s.LastShutdownTime,
		OverrideEndTime:          s.OverrideEndTime,
		LowBatteryTime:           s.LowBatteryTime,
		LeaseIP:                  ipv4(s.Lease.IP),
		LeaseGateway:             ipv4(s.Lease.Gateway),
		LeasePrefix:              uint8(s.Lease.Prefix),
		ActivityCount:            uint8(s.Activities.Len()),
	}
	for i := 0; i < s.Activities.Len(); i++ {
		a := s.Activities.At(i)
		rec.Activities[i] = activityRecord{Day: uint8(a.Day), StartTime: a.StartTime, Duration: a.Duration}
	}

	var buf bytes.Buffer
	buf.Grow(RecordSize)
	if err := binary.Write(&buf, binary.LittleEndian, &rec); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record. Activities are read up to the stored
// count and stop early at the first invalid slot.
func (s *PersistentState) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("decode state: short record (%d of %d bytes)", len(data), RecordSize)
	}
	var rec record
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &rec); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	*s = PersistentState{
		Magic:                    rec.Magic,
		RequestedMode:            Mode(rec.RequestedMode),
		DefaultDuration:          rec.DefaultDuration,
		MaxValveResistance:       rec.MaxValveResistance,
		Boottime:                 rec.Boottime,
		Downtime:                 rec.Downtime,
		DowntimeScale:            rec.DowntimeScale,
		BatteryOffset:            rec.BatteryOffset,
		ActivityProgramID:        rec.ActivityProgramID,
		Mode:                     Mode(rec.Mode),
		OffMode:                  Mode(rec.OffMode),
		OverriddenMode:           Mode(rec.OverriddenMode),
		Override:                 rec.Override,
		OverrideEndTime:          rec.OverrideEndTime,
		OverrideEndTimeEstimated: rec.OverrideEndTimeEstimated,
		ValveOpen:                rec.ValveOpen,
		ValveOpenTime:            rec.ValveOpenTime,
		ValveCloseTime:           rec.ValveCloseTime,
		ValveCloseTimeEstimated:  rec.ValveCloseTimeEstimated,
		LastValveStatus:          ValveStatus(rec.LastValveStatus),
		ValveSupplyVoltage:       rec.ValveSupplyVoltage,
		ValveResistance:          rec.ValveResistance,
		TotalOpenCount:           rec.TotalOpenCount,
		TotalOpenDuration:        rec.TotalOpenDuration,
		LastShutdownTime:         rec.LastShutdownTime,
		LastDowntime:             rec.LastDowntime,
		LowBattery:               rec.LowBattery,
		LowBatteryTime:           rec.LowBatteryTime,
		LowBatteryTimeEstimated:  rec.LowBatteryTimeEstimated,
		Lease: Lease{
			IP:      addr(rec.LeaseIP),
			Gateway: addr(rec.LeaseGateway),
			Prefix:  int(rec.LeasePrefix),
		},
	}
	n := int(rec.ActivityCount)
	if n > MaxActivities {
		n = MaxActivities
	}
	for _, a := range rec.Activities[:n] {
		if !s.Activities.Append(Activity{Day: DayPattern(a.Day), StartTime: a.StartTime, Duration: a.Duration}) {
			break
		}
	}
	return nil
}

func ipv4(a netip.Addr) [4]byte {
	if !a.Is4() {
		return [4]byte{}
	}
	return a.As4()
}

func addr(b [4]byte) netip.Addr {
	if b == ([4]byte{}) {
		return netip.Addr{}
	}
	return netip.AddrFrom4(b)
}
