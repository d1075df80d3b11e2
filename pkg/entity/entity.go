package entity

import (
	"slices"
	"strings"
	"time"
)

// Entity is the canonical shape shared by every imported data type. Type
// specific data lives in Properties.
type Entity struct {
	ID                  string                       `json:"Id"`
	Type                string                       `json:"Type"`
	Active              bool                         `json:"Active"`
	PublishedOn         []string                     `json:"PublishedOn,omitempty"`
	Source              string                       `json:"Source"`
	SyncSourceInterface string                       `json:"SyncSourceInterface"`
	SyncUpdateMode      string                       `json:"SyncUpdateMode,omitempty"`
	Mapping             map[string]map[string]string `json:"Mapping,omitempty"`
	Tags                []TagRef                     `json:"Tags,omitempty"`
	TagIDs              []string                     `json:"TagIds,omitempty"`
	LicenseInfo         *LicenseInfo                 `json:"LicenseInfo,omitempty"`
	Meta                *Meta                        `json:"_Meta,omitempty"`
	FirstImport         *time.Time                   `json:"FirstImport,omitempty"`
	LastChange          *time.Time                   `json:"LastChange,omitempty"`

	Shortname    string                 `json:"Shortname,omitempty"`
	HasLanguage  []string               `json:"HasLanguage,omitempty"`
	Detail       map[string]Detail      `json:"Detail,omitempty"`
	ContactInfos map[string]ContactInfo `json:"ContactInfos,omitempty"`
	GpsInfo      []GpsInfo              `json:"GpsInfo,omitempty"`
	LocationInfo *LocationInfo          `json:"LocationInfo,omitempty"`
	DistanceInfo *DistanceInfo          `json:"DistanceInfo,omitempty"`
	ImageGallery []Image                `json:"ImageGallery,omitempty"`

	Properties Properties `json:"Properties"`
}

type TagRef struct {
	ID       string `json:"Id"`
	Source   string `json:"Source"`
	Type     string `json:"Type,omitempty"`
	Name     string `json:"Name,omitempty"`
	TagEntry string `json:"TagEntry,omitempty"`
}

type LicenseInfo struct {
	License       string `json:"License"`
	LicenseHolder string `json:"LicenseHolder,omitempty"`
	Author        string `json:"Author,omitempty"`
	ClosedData    bool   `json:"ClosedData"`
}

type Meta struct {
	ID         string      `json:"Id"`
	Type       string      `json:"Type"`
	Source     string      `json:"Source"`
	LastUpdate time.Time   `json:"LastUpdate"`
	Reduced    bool        `json:"Reduced"`
	UpdateInfo *UpdateInfo `json:"UpdateInfo,omitempty"`
}

type UpdateInfo struct {
	UpdatedBy    string `json:"UpdatedBy"`
	UpdateSource string `json:"UpdateSource"`
}

type Detail struct {
	Title     string `json:"Title,omitempty"`
	BaseText  string `json:"BaseText,omitempty"`
	MetaTitle string `json:"MetaTitle,omitempty"`
	MetaDesc  string `json:"MetaDesc,omitempty"`
}

type ContactInfo struct {
	CompanyName string `json:"CompanyName,omitempty"`
	Givenname   string `json:"Givenname,omitempty"`
	Surname     string `json:"Surname,omitempty"`
	Email       string `json:"Email,omitempty"`
	Phone       string `json:"Phonenumber,omitempty"`
	Address     string `json:"Address,omitempty"`
	City        string `json:"City,omitempty"`
	ZipCode     string `json:"ZipCode,omitempty"`
	URL         string `json:"Url,omitempty"`
}

type GpsInfo struct {
	Type      string  `json:"Gpstype,omitempty"`
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
	Altitude  float64 `json:"Altitude,omitempty"`
}

type LocationInfo struct {
	RegionID       string `json:"RegionId,omitempty"`
	TvID           string `json:"TvId,omitempty"`
	MunicipalityID string `json:"MunicipalityId,omitempty"`
	DistrictID     string `json:"DistrictId,omitempty"`
	AreaID         string `json:"AreaId,omitempty"`
}

type DistanceInfo struct {
	DistanceToMunicipality float64 `json:"DistanceToMunicipality"`
	DistanceToDistrict     float64 `json:"DistanceToDistrict"`
}

type Image struct {
	URL       string `json:"ImageUrl"`
	Name      string `json:"ImageName,omitempty"`
	Source    string `json:"ImageSource,omitempty"`
	License   string `json:"License,omitempty"`
	Width     int    `json:"Width,omitempty"`
	Height    int    `json:"Height,omitempty"`
	ListPos   int    `json:"ListPosition,omitempty"`
	CopyRight string `json:"CopyRight,omitempty"`
}

// RawRecord is one fetched payload as it was received from a source.
type RawRecord struct {
	ID              string    `json:"id"`
	Datasource      string    `json:"datasource"`
	SourceInterface string    `json:"sourceinterface"`
	SourceID        string    `json:"sourceid"`
	SourceURL       string    `json:"sourceurl"`
	Type            string    `json:"type"`
	Format          string    `json:"rawformat"`
	License         string    `json:"license"`
	ImportedAt      time.Time `json:"importdate"`
	Payload         []byte    `json:"raw"`
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.PublishedOn = slices.Clone(e.PublishedOn)
	c.Tags = slices.Clone(e.Tags)
	c.TagIDs = slices.Clone(e.TagIDs)
	c.HasLanguage = slices.Clone(e.HasLanguage)
	c.GpsInfo = slices.Clone(e.GpsInfo)
	c.ImageGallery = slices.Clone(e.ImageGallery)
	if e.Mapping != nil {
		c.Mapping = make(map[string]map[string]string, len(e.Mapping))
		for k, v := range e.Mapping {
			inner := make(map[string]string, len(v))
			for ik, iv := range v {
				inner[ik] = iv
			}
			c.Mapping[k] = inner
		}
	}
	if e.Detail != nil {
		c.Detail = make(map[string]Detail, len(e.Detail))
		for k, v := range e.Detail {
			c.Detail[k] = v
		}
	}
	if e.ContactInfos != nil {
		c.ContactInfos = make(map[string]ContactInfo, len(e.ContactInfos))
		for k, v := range e.ContactInfos {
			c.ContactInfos[k] = v
		}
	}
	if e.LicenseInfo != nil {
		li := *e.LicenseInfo
		c.LicenseInfo = &li
	}
	if e.Meta != nil {
		m := *e.Meta
		if e.Meta.UpdateInfo != nil {
			ui := *e.Meta.UpdateInfo
			m.UpdateInfo = &ui
		}
		c.Meta = &m
	}
	if e.FirstImport != nil {
		t := *e.FirstImport
		c.FirstImport = &t
	}
	if e.LastChange != nil {
		t := *e.LastChange
		c.LastChange = &t
	}
	if e.LocationInfo != nil {
		li := *e.LocationInfo
		c.LocationInfo = &li
	}
	if e.DistanceInfo != nil {
		di := *e.DistanceInfo
		c.DistanceInfo = &di
	}
	c.Properties = e.Properties.Clone()
	return &c
}

func (e *Entity) SetMapping(source string, values map[string]string) {
	if e.Mapping == nil {
		e.Mapping = make(map[string]map[string]string)
	}
	e.Mapping[source] = values
}

func (e *Entity) HasTagID(id string) bool {
	for _, t := range e.TagIDs {
		if strings.EqualFold(t, id) {
			return true
		}
	}
	return false
}

// AddTagID adds id to TagIDs unless an equal id (case insensitive) exists.
func (e *Entity) AddTagID(id string) {
	if id == "" || e.HasTagID(id) {
		return
	}
	e.TagIDs = append(e.TagIDs, id)
}

func (e *Entity) Tag(id string) (TagRef, bool) {
	for _, t := range e.Tags {
		if strings.EqualFold(t.ID, id) {
			return t, true
		}
	}
	return TagRef{}, false
}

// IsOpenData reports whether the stored license allows open redistribution.
func IsOpenData(e *Entity) bool {
	return e.LicenseInfo != nil && !e.LicenseInfo.ClosedData
}

// TagIDsBySource returns the tag ids on e resolved from the given source.
func TagIDsBySource(e *Entity, source string) []string {
	var ids []string
	for _, t := range e.Tags {
		if t.Source == source {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// SmgTags is the legacy name of the raw tag id list.
func SmgTags(e *Entity) []string {
	return slices.Clone(e.TagIDs)
}
