package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ZoneState is the decoded state of a single monitored zone input.
type ZoneState int

const (
	ZoneClosed ZoneState = iota
	ZoneOpen
	ZoneInAlarm
	ZoneClosedTrouble
	ZoneOpenTrouble
	ZoneClosedMemory
	ZoneOpenMemory
	ZoneBypass
	ZoneClosedTrouble2
	ZoneOpenTrouble2
)

var zoneStateNames = map[ZoneState]string{
	ZoneClosed:         "Closed",
	ZoneOpen:           "Open",
	ZoneInAlarm:        "In_alarm",
	ZoneClosedTrouble:  "Closed_Trouble",
	ZoneOpenTrouble:    "Open_Trouble",
	ZoneClosedMemory:   "Closed_Memory",
	ZoneOpenMemory:     "Open_Memory",
	ZoneBypass:         "Bypass",
	ZoneClosedTrouble2: "Closed_Trouble2",
	ZoneOpenTrouble2:   "Open_Trouble2",
}

func (z ZoneState) String() string {
	if s, ok := zoneStateNames[z]; ok {
		return s
	}
	return "unknown"
}

func (z ZoneState) MarshalJSON() ([]byte, error) {
	return json.Marshal(z.String())
}

// AreaState is the decoded arm state of a partition.
type AreaState int

const (
	AreaUnset AreaState = iota
	AreaDisarmed
	AreaArmed
	AreaTriggered
	AreaArmedSleep
	AreaArmedStay
	AreaEntryDelay
	AreaExitDelay
	AreaReady
	AreaNotReady
	AreaInstant
)

var areaStateNames = map[AreaState]string{
	AreaUnset:      "Unset",
	AreaDisarmed:   "Disarmed",
	AreaArmed:      "Armed",
	AreaTriggered:  "Triggered",
	AreaArmedSleep: "Armed_sleep",
	AreaArmedStay:  "Armed_stay",
	AreaEntryDelay: "Entry_delay",
	AreaExitDelay:  "Exit_delay",
	AreaReady:      "Ready",
	AreaNotReady:   "Not_ready",
	AreaInstant:    "Instant",
}

func (a AreaState) String() string {
	if s, ok := areaStateNames[a]; ok {
		return s
	}
	return "unknown"
}

func (a AreaState) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Raw-code tables for the two status arrays the panel embeds in
// statuslive.html. The codes are the panel firmware's wire values.
var (
	zoneStateByCode = map[int]ZoneState{
		0: ZoneClosed,
		1: ZoneOpen,
		2: ZoneInAlarm,
		3: ZoneClosedTrouble,
		4: ZoneOpenTrouble,
		5: ZoneClosedMemory,
		6: ZoneOpenMemory,
		7: ZoneBypass,
		8: ZoneClosedTrouble2,
		9: ZoneOpenTrouble2,
	}

	areaStateByCode = map[int]AreaState{
		0:  AreaUnset,
		1:  AreaDisarmed,
		2:  AreaArmed,
		3:  AreaTriggered,
		4:  AreaArmedSleep,
		5:  AreaArmedStay,
		6:  AreaEntryDelay,
		7:  AreaExitDelay,
		8:  AreaReady,
		9:  AreaNotReady,
		10: AreaInstant,
	}
)

// ZoneEntry pairs a 1-based zone index with its decoded state.
type ZoneEntry struct {
	Index int       `json:"index"`
	State ZoneState `json:"state"`
}

// AreaEntry pairs a 1-based area index with its decoded state.
type AreaEntry struct {
	Index int       `json:"index"`
	State AreaState `json:"state"`
}

// Snapshot is one full decode of the panel's live status page. Entry
// ordering follows the array declaration order on the page; the position
// is the zone/area index.
type Snapshot struct {
	Zones []ZoneEntry `json:"zones_status"`
	Areas []AreaEntry `json:"areas_status"`
}

// Delta holds the entries that changed between two consecutive snapshots,
// in original index order. A nil slice means no change in that category.
type Delta struct {
	Zones []ZoneEntry `json:"zones_status,omitempty"`
	Areas []AreaEntry `json:"areas_status,omitempty"`
}

// Empty reports whether the delta carries no changes at all.
func (d Delta) Empty() bool {
	return len(d.Zones) == 0 && len(d.Areas) == 0
}

// The status page embeds the two status arrays as fixed-syntax script
// declarations. This is a parsing contract with the firmware, not general
// HTML parsing; the declarations never vary.
var (
	statusFormRe = regexp.MustCompile(`(?i)<form[^>]+name=["']?statuslive`)
	zoneArrayRe  = regexp.MustCompile(`tbl_statuszone = new Array\((.*?)\);`)
	areaArrayRe  = regexp.MustCompile(`tbl_useraccess = new Array\((.*?)\);`)
)

// DecodeStatus parses a statuslive.html body into a Snapshot. It fails
// with a protocol error when the page is not the live status page (stale
// session or wrong endpoint), and with a decode error when an array is
// missing or carries a code outside the firmware tables.
func DecodeStatus(body string) (*Snapshot, error) {
	if !statusFormRe.MatchString(body) {
		return nil, &PanelError{
			Sentinel:  ErrProtocol,
			Operation: "decode status",
			Err:       errors.New("statuslive form not present in page"),
		}
	}

	zoneCodes, err := scriptArray(body, zoneArrayRe, "tbl_statuszone")
	if err != nil {
		return nil, err
	}
	areaCodes, err := scriptArray(body, areaArrayRe, "tbl_useraccess")
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Zones: make([]ZoneEntry, 0, len(zoneCodes)),
		Areas: make([]AreaEntry, 0, len(areaCodes)),
	}
	for i, code := range zoneCodes {
		state, ok := zoneStateByCode[code]
		if !ok {
			return nil, decodeError("tbl_statuszone", i+1, code)
		}
		snap.Zones = append(snap.Zones, ZoneEntry{Index: i + 1, State: state})
	}
	for i, code := range areaCodes {
		state, ok := areaStateByCode[code]
		if !ok {
			return nil, decodeError("tbl_useraccess", i+1, code)
		}
		snap.Areas = append(snap.Areas, AreaEntry{Index: i + 1, State: state})
	}
	return snap, nil
}

func decodeError(array string, index, code int) error {
	return &PanelError{
		Sentinel:  ErrProtocol,
		Operation: "decode status",
		Err:       fmt.Errorf("unknown code %d at position %d of %s", code, index, array),
	}
}

// scriptArray extracts the comma-separated integer list from a
// `<name> = new Array(...);` declaration.
func scriptArray(body string, re *regexp.Regexp, name string) ([]int, error) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return nil, &PanelError{
			Sentinel:  ErrProtocol,
			Operation: "decode status",
			Err:       fmt.Errorf("array declaration %s not found", name),
		}
	}

	inner := strings.TrimSpace(m[1])
	if inner == "" {
		return nil, nil
	}
	fields := strings.Split(inner, ",")
	out := make([]int, 0, len(fields))
	for _, field := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, &PanelError{
				Sentinel:  ErrProtocol,
				Operation: "decode status",
				Err:       fmt.Errorf("array %s: %w", name, err),
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// diffSnapshots compares cur against prev position by position and returns
// the entries that changed. A nil prev (first poll) reports both
// categories in full. Entries beyond the shorter snapshot's length are
// ignored, matching the panel's fixed table sizes.
func diffSnapshots(prev, cur *Snapshot) Delta {
	if prev == nil {
		return Delta{Zones: cur.Zones, Areas: cur.Areas}
	}

	var d Delta
	for i := 0; i < len(cur.Zones) && i < len(prev.Zones); i++ {
		if cur.Zones[i] != prev.Zones[i] {
			d.Zones = append(d.Zones, cur.Zones[i])
		}
	}
	for i := 0; i < len(cur.Areas) && i < len(prev.Areas); i++ {
		if cur.Areas[i] != prev.Areas[i] {
			d.Areas = append(d.Areas, cur.Areas[i])
		}
	}
	return d
}
