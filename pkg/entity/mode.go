package entity

import (
	"fmt"
	"strings"
)

// SyncMode selects between the full projection and the reduced open data
// projection of a source.
type SyncMode int

const (
	ModeNormal SyncMode = iota
	ModeReduced
)

const reducedSuffix = "_REDUCED"

func (m SyncMode) String() string {
	switch m {
	case ModeReduced:
		return "reduced"
	default:
		return "normal"
	}
}

func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "full":
		return ModeNormal, nil
	case "reduced", "opendata":
		return ModeReduced, nil
	default:
		return ModeNormal, fmt.Errorf("unknown sync mode: %s", s)
	}
}

func (m SyncMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SyncMode) UnmarshalText(b []byte) error {
	parsed, err := ParseSyncMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// IDStyle is the case convention ids of an entity type are stored with.
type IDStyle string

const (
	IDStyleKeep  IDStyle = ""
	IDStyleUpper IDStyle = "upper"
	IDStyleLower IDStyle = "lower"
)

func (s IDStyle) Apply(id string) string {
	switch s {
	case IDStyleUpper:
		return strings.ToUpper(id)
	case IDStyleLower:
		return strings.ToLower(id)
	default:
		return id
	}
}

// StoredID returns the id an entity is persisted under for the given mode.
func StoredID(id string, style IDStyle, mode SyncMode) string {
	id = style.Apply(id)
	if mode == ModeReduced && !strings.HasSuffix(strings.ToUpper(id), reducedSuffix) {
		return id + reducedSuffix
	}
	return id
}

// ReducedID returns the id of the reduced twin of id.
func ReducedID(id string) string {
	if IsReducedID(id) {
		return id
	}
	return id + reducedSuffix
}

func IsReducedID(id string) bool {
	return strings.HasSuffix(strings.ToUpper(id), reducedSuffix)
}

// DeletionMode is the capability a source offers for vanished records.
type DeletionMode string

const (
	// DeletionSoft disables records that a source stops reporting.
	DeletionSoft DeletionMode = "soft"
	// DeletionHard removes them; only sources with true delete semantics.
	DeletionHard DeletionMode = "hard"
)

func ParseDeletionMode(s string) (DeletionMode, error) {
	switch DeletionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeletionSoft:
		return DeletionSoft, nil
	case DeletionHard:
		return DeletionHard, nil
	default:
		return DeletionSoft, fmt.Errorf("unknown deletion mode: %s", s)
	}
}
