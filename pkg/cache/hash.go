package cache

import (
	"encoding/json"
	"strconv"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"github.com/cespare/xxhash/v2"
	"github.com/gohugoio/hashstructure"
)

// fingerprintView is the projection of an entity that counts for change
// detection. Bookkeeping fields recomputed on every pass are left out.
type fingerprintView struct {
	ID                  string
	Type                string
	Active              bool
	PublishedOn         []string
	Source              string
	SyncSourceInterface string
	SyncUpdateMode      string
	Mapping             map[string]map[string]string
	Tags                []entity.TagRef
	TagIDs              []string
	LicenseInfo         *entity.LicenseInfo
	Shortname           string
	HasLanguage         []string
	Detail              map[string]entity.Detail
	ContactInfos        map[string]entity.ContactInfo
	GpsInfo             []entity.GpsInfo
	LocationInfo        *entity.LocationInfo
	DistanceInfo        *entity.DistanceInfo
	Properties          string
}

// Properties go in as JSON since hashstructure skips the unexported state of
// time.Time values.
func project(e *entity.Entity) (fingerprintView, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fingerprintView{}, err
	}
	return fingerprintView{
		ID:                  e.ID,
		Type:                e.Type,
		Active:              e.Active,
		PublishedOn:         e.PublishedOn,
		Source:              e.Source,
		SyncSourceInterface: e.SyncSourceInterface,
		SyncUpdateMode:      e.SyncUpdateMode,
		Mapping:             e.Mapping,
		Tags:                e.Tags,
		TagIDs:              e.TagIDs,
		LicenseInfo:         e.LicenseInfo,
		Shortname:           e.Shortname,
		HasLanguage:         e.HasLanguage,
		Detail:              e.Detail,
		ContactInfos:        e.ContactInfos,
		GpsInfo:             e.GpsInfo,
		LocationInfo:        e.LocationInfo,
		DistanceInfo:        e.DistanceInfo,
		Properties:          string(props),
	}, nil
}

// Fingerprint hashes the content of an entity, ignoring images and sync
// bookkeeping (Meta, FirstImport, LastChange).
func Fingerprint(e *entity.Entity) (uint64, error) {
	if e == nil {
		return 0, nil
	}
	view, err := project(e)
	if err != nil {
		return 0, err
	}
	return hashstructure.Hash(view, nil)
}

// ImageHash hashes the image gallery in list order.
func ImageHash(images []entity.Image) uint64 {
	h := xxhash.New()
	var buf []byte
	for _, img := range images {
		for _, s := range []string{img.URL, img.Name, img.Source, img.License, img.CopyRight} {
			h.WriteString(s)
			h.Write([]byte{0})
		}
		for _, n := range []int{img.Width, img.Height, img.ListPos} {
			buf = strconv.AppendInt(buf[:0], int64(n), 10)
			buf = append(buf, 0)
			h.Write(buf)
		}
		h.Write([]byte{1})
	}
	return h.Sum64()
}

// Unchanged reports whether next carries the same content and images as old.
// Equal fingerprints let an upsert skip the field by field diff.
func Unchanged(old, next *entity.Entity) (bool, error) {
	if old == nil || next == nil {
		return false, nil
	}
	if ImageHash(old.ImageGallery) != ImageHash(next.ImageGallery) {
		return false, nil
	}
	a, err := Fingerprint(old)
	if err != nil {
		return false, err
	}
	b, err := Fingerprint(next)
	if err != nil {
		return false, err
	}
	return a == b, nil
}
