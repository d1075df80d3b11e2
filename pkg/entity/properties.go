package entity

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

type PropertiesKind string

const (
	KindNone          PropertiesKind = ""
	KindAccommodation PropertiesKind = "accommodation"
	KindEvent         PropertiesKind = "event"
	KindPoi           PropertiesKind = "poi"
	KindVenue         PropertiesKind = "venue"
	KindMuseum        PropertiesKind = "museum"
	KindTag           PropertiesKind = "tag"
)

// Properties holds exactly one type specific property bag, selected by Kind.
type Properties struct {
	Kind          PropertiesKind
	Accommodation *AccommodationProperties
	Event         *EventProperties
	Poi           *PoiProperties
	Venue         *VenueProperties
	Museum        *MuseumProperties
	Tag           *TagProperties
}

type AccommodationProperties struct {
	IDMActive  bool              `json:"IdmActive"`
	Categories []string          `json:"Categories,omitempty"`
	Rooms      []Room            `json:"Rooms,omitempty"`
	Review     map[string]Review `json:"Review,omitempty"`
}

type Room struct {
	ID       string `json:"Id"`
	Name     string `json:"Name,omitempty"`
	Source   string `json:"Source,omitempty"`
	MinGuest int    `json:"MinGuest,omitempty"`
	MaxGuest int    `json:"MaxGuest,omitempty"`
}

type Review struct {
	ReviewID string  `json:"ReviewId"`
	Score    float64 `json:"Score"`
	Results  int     `json:"Results"`
	Active   bool    `json:"Active"`
}

type EventProperties struct {
	Dates       []EventDate  `json:"EventDate,omitempty"`
	DateBegin   *time.Time   `json:"DateBegin,omitempty"`
	DateEnd     *time.Time   `json:"DateEnd,omitempty"`
	AgeFrom     int          `json:"AgeFrom,omitempty"`
	AgeTo       int          `json:"AgeTo,omitempty"`
	OrganizerID string       `json:"OrgRID,omitempty"`
	Organizer   *ContactInfo `json:"OrganizerInfos,omitempty"`
	Classifier  string       `json:"ClassificationRID,omitempty"`
}

type EventDate struct {
	DayRID    string    `json:"DayRID"`
	From      time.Time `json:"From"`
	To        time.Time `json:"To"`
	Begin     string    `json:"Begin,omitempty"`
	End       string    `json:"End,omitempty"`
	Cancelled bool      `json:"Cancelled,omitempty"`
}

type PoiProperties struct {
	AgeFrom    int      `json:"AgeFrom,omitempty"`
	AgeTo      int      `json:"AgeTo,omitempty"`
	Highlight  bool     `json:"Highlight,omitempty"`
	PoiType    string   `json:"Type,omitempty"`
	SubType    string   `json:"SubType,omitempty"`
	Categories []string `json:"Categories,omitempty"`
}

type VenueProperties struct {
	Capacity int      `json:"Capacity,omitempty"`
	RoomIDs  []string `json:"RoomIds,omitempty"`
}

type MuseumProperties struct {
	MuseumID     string `json:"MuseId"`
	MunicipalID  string `json:"GemeindeId,omitempty"`
	Highlight    bool   `json:"Highlight,omitempty"`
	PoiType      string `json:"Type,omitempty"`
	SubType      string `json:"SubType,omitempty"`
	OpeningHours string `json:"OpeningHours,omitempty"`
}

// TagProperties describe a taxonomy entry stored as an entity of type "tag".
type TagProperties struct {
	Types                []string            `json:"Types,omitempty"`
	Parents              []string            `json:"Parents,omitempty"`
	Codes                map[string][]string `json:"Codes,omitempty"`
	PublishDataWithTagOn map[string]bool     `json:"PublishDataWithTagOn,omitempty"`
}

func AccommodationOf(p *AccommodationProperties) Properties {
	return Properties{Kind: KindAccommodation, Accommodation: p}
}

func EventOf(p *EventProperties) Properties {
	return Properties{Kind: KindEvent, Event: p}
}

func PoiOf(p *PoiProperties) Properties {
	return Properties{Kind: KindPoi, Poi: p}
}

func VenueOf(p *VenueProperties) Properties {
	return Properties{Kind: KindVenue, Venue: p}
}

func MuseumOf(p *MuseumProperties) Properties {
	return Properties{Kind: KindMuseum, Museum: p}
}

func TagOf(p *TagProperties) Properties {
	return Properties{Kind: KindTag, Tag: p}
}

func (p Properties) value() any {
	switch p.Kind {
	case KindAccommodation:
		return p.Accommodation
	case KindEvent:
		return p.Event
	case KindPoi:
		return p.Poi
	case KindVenue:
		return p.Venue
	case KindMuseum:
		return p.Museum
	case KindTag:
		return p.Tag
	default:
		return nil
	}
}

// Validate checks that the variant matching Kind is the only one set.
func (p Properties) Validate() error {
	set := 0
	for _, v := range []bool{
		p.Accommodation != nil,
		p.Event != nil,
		p.Poi != nil,
		p.Venue != nil,
		p.Museum != nil,
		p.Tag != nil,
	} {
		if v {
			set++
		}
	}
	if p.Kind == KindNone {
		if set != 0 {
			return fmt.Errorf("properties without kind carry %d variants", set)
		}
		return nil
	}
	if set != 1 {
		return fmt.Errorf("properties of kind %s carry %d variants", p.Kind, set)
	}
	var ok bool
	switch p.Kind {
	case KindAccommodation:
		ok = p.Accommodation != nil
	case KindEvent:
		ok = p.Event != nil
	case KindPoi:
		ok = p.Poi != nil
	case KindVenue:
		ok = p.Venue != nil
	case KindMuseum:
		ok = p.Museum != nil
	case KindTag:
		ok = p.Tag != nil
	default:
		return fmt.Errorf("unknown properties kind: %s", p.Kind)
	}
	if !ok {
		return fmt.Errorf("properties of kind %s carry a different variant", p.Kind)
	}
	return nil
}

type propertiesEnvelope struct {
	Kind PropertiesKind  `json:"kind,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (p Properties) MarshalJSON() ([]byte, error) {
	if p.Kind == KindNone {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p.value())
	if err != nil {
		return nil, err
	}
	return json.Marshal(propertiesEnvelope{Kind: p.Kind, Data: data})
}

func (p *Properties) UnmarshalJSON(b []byte) error {
	var env propertiesEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*p = Properties{Kind: env.Kind}
	if env.Kind == KindNone {
		return nil
	}

	var target any
	switch env.Kind {
	case KindAccommodation:
		p.Accommodation = &AccommodationProperties{}
		target = p.Accommodation
	case KindEvent:
		p.Event = &EventProperties{}
		target = p.Event
	case KindPoi:
		p.Poi = &PoiProperties{}
		target = p.Poi
	case KindVenue:
		p.Venue = &VenueProperties{}
		target = p.Venue
	case KindMuseum:
		p.Museum = &MuseumProperties{}
		target = p.Museum
	case KindTag:
		p.Tag = &TagProperties{}
		target = p.Tag
	default:
		return fmt.Errorf("unknown properties kind: %s", env.Kind)
	}

	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, target)
}

func (p Properties) Clone() Properties {
	c := Properties{Kind: p.Kind}
	if p.Accommodation != nil {
		a := *p.Accommodation
		a.Categories = slices.Clone(p.Accommodation.Categories)
		a.Rooms = slices.Clone(p.Accommodation.Rooms)
		if p.Accommodation.Review != nil {
			a.Review = make(map[string]Review, len(p.Accommodation.Review))
			for k, v := range p.Accommodation.Review {
				a.Review[k] = v
			}
		}
		c.Accommodation = &a
	}
	if p.Event != nil {
		ev := *p.Event
		ev.Dates = slices.Clone(p.Event.Dates)
		if p.Event.Organizer != nil {
			o := *p.Event.Organizer
			ev.Organizer = &o
		}
		if p.Event.DateBegin != nil {
			t := *p.Event.DateBegin
			ev.DateBegin = &t
		}
		if p.Event.DateEnd != nil {
			t := *p.Event.DateEnd
			ev.DateEnd = &t
		}
		c.Event = &ev
	}
	if p.Poi != nil {
		po := *p.Poi
		po.Categories = slices.Clone(p.Poi.Categories)
		c.Poi = &po
	}
	if p.Venue != nil {
		v := *p.Venue
		v.RoomIDs = slices.Clone(p.Venue.RoomIDs)
		c.Venue = &v
	}
	if p.Museum != nil {
		m := *p.Museum
		c.Museum = &m
	}
	if p.Tag != nil {
		t := *p.Tag
		t.Types = slices.Clone(p.Tag.Types)
		t.Parents = slices.Clone(p.Tag.Parents)
		t.Codes = maps.Clone(p.Tag.Codes)
		t.PublishDataWithTagOn = maps.Clone(p.Tag.PublishDataWithTagOn)
		c.Tag = &t
	}
	return c
}

// IntField returns a numeric property by its lower camel case name. ok is
// false when the current kind has no such field.
func (p Properties) IntField(name string) (int, bool) {
	switch {
	case p.Kind == KindEvent && p.Event != nil:
		switch name {
		case "ageFrom":
			return p.Event.AgeFrom, true
		case "ageTo":
			return p.Event.AgeTo, true
		}
	case p.Kind == KindPoi && p.Poi != nil:
		switch name {
		case "ageFrom":
			return p.Poi.AgeFrom, true
		case "ageTo":
			return p.Poi.AgeTo, true
		}
	case p.Kind == KindVenue && p.Venue != nil:
		if name == "capacity" {
			return p.Venue.Capacity, true
		}
	}
	return 0, false
}

func (p Properties) SetIntField(name string, v int) bool {
	switch {
	case p.Kind == KindEvent && p.Event != nil:
		switch name {
		case "ageFrom":
			p.Event.AgeFrom = v
			return true
		case "ageTo":
			p.Event.AgeTo = v
			return true
		}
	case p.Kind == KindPoi && p.Poi != nil:
		switch name {
		case "ageFrom":
			p.Poi.AgeFrom = v
			return true
		case "ageTo":
			p.Poi.AgeTo = v
			return true
		}
	case p.Kind == KindVenue && p.Venue != nil:
		if name == "capacity" {
			p.Venue.Capacity = v
			return true
		}
	}
	return false
}
