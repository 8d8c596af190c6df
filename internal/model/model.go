// Package model holds the domain types for the DVS departure feed: trains,
// their wings, stations, platforms and modification events.
//
// All timestamps in this package are UTC; converting to local (Dutch) time is
// a presentation concern and happens outside the daemon. The JSON field names
// are part of the client wire format and must not change.
package model

import (
	"strings"
	"time"
)

// StatusDeparted is the feed status code meaning the train has left.
// Other status codes are opaque to the daemon and flow through to clients.
const StatusDeparted = "5"

// Modification kinds as emitted by the feed.
const (
	ModDelayed           = 10
	ModPlatformChanged   = 20
	ModPlatformAllocated = 22
	ModScheduleChanged   = 30
	ModAdditionalTrain   = 31
	ModCancelled         = 32
	ModDiverted          = 33
	ModTerminatesAt      = 34
	ModContinuesTo       = 35
	ModStatusChanged     = 40
	ModAttentionGoesTo   = 41
	ModNoRealtime        = 50
	ModReplacementBus    = 51
)

// Station identifies a station in the rail network. Stations are immutable
// and used by reference only.
type Station struct {
	Code       string `json:"code"`
	ShortName  string `json:"short_name,omitempty"`
	MediumName string `json:"medium_name,omitempty"`
	LongName   string `json:"long_name,omitempty"`
	UIC        string `json:"uic,omitempty"`
	Type       string `json:"type,omitempty"`
}

// NewStation builds a Station with all three name lengths set to name.
func NewStation(code, name string) Station {
	return Station{
		Code:       code,
		ShortName:  name,
		MediumName: name,
		LongName:   name,
	}
}

// Platform is a departure track: a number plus an optional letter phase
// ("4", "4a"). A train can depart from several tracks at once, so platform
// fields are ordered sequences of Platform.
type Platform struct {
	Number string `json:"number"`
	Phase  string `json:"phase,omitempty"`
}

func (p Platform) String() string {
	return p.Number + p.Phase
}

// PlatformsEqual compares two platform sequences component-wise.
func PlatformsEqual(a, b []Platform) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Modification is a typed event attached to a train or a wing: a numeric
// kind, an optional cause (short and long form) and an optional station.
type Modification struct {
	Kind       int      `json:"kind"`
	CauseShort string   `json:"cause_short,omitempty"`
	CauseLong  string   `json:"cause_long,omitempty"`
	Station    *Station `json:"station,omitempty"`
}

// RollingStockPart is one unit of the train composition. Each part belongs
// to a wing and carries its own final destination.
type RollingStockPart struct {
	Kind               string   `json:"kind"`
	Designation        string   `json:"designation,omitempty"`
	Length             string   `json:"length,omitempty"`
	PlannedDestination *Station `json:"planned_destination,omitempty"`
	CurrentDestination *Station `json:"current_destination,omitempty"`
	Position           string   `json:"position,omitempty"`
	DepartureOrder     string   `json:"departure_order,omitempty"`
	UnitNumber         string   `json:"unit_number,omitempty"`
}

// CleanUnitNumber returns the unit number stripped of padding zeroes and
// dashes as printed on the actual rolling stock.
func (p RollingStockPart) CleanUnitNumber() string {
	if p.UnitNumber == "" {
		return ""
	}
	s := strings.TrimLeft(p.UnitNumber, "0-")
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, "-")
}

// Wing is a coupled segment of a train with its own destination, platform,
// stopping pattern and rolling stock. A train has at least one wing.
type Wing struct {
	PlannedDestination *Station           `json:"planned_destination,omitempty"`
	CurrentDestination *Station           `json:"current_destination,omitempty"`
	PlannedPlatforms   []Platform         `json:"planned_platform,omitempty"`
	CurrentPlatforms   []Platform         `json:"current_platform,omitempty"`
	PlannedStops       []Station          `json:"planned_stops,omitempty"`
	CurrentStops       []Station          `json:"current_stops,omitempty"`
	RollingStock       []RollingStockPart `json:"rolling_stock,omitempty"`
	Modifications      []Modification     `json:"modifications,omitempty"`
}

// TransportKind is the service type of a train: a short code ("IC") plus the
// long display name ("Intercity").
type TransportKind struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TravelTip is passenger guidance attached to the train ("does not call
// at ..."). The daemon preserves tips but never acts on them.
type TravelTip struct {
	Code     string    `json:"code"`
	Stations []Station `json:"stations,omitempty"`
}

// BoardingTip points at an alternative train that reaches a station sooner.
type BoardingTip struct {
	Kind        string    `json:"kind,omitempty"`
	ExitStation *Station  `json:"exit_station,omitempty"`
	Destination *Station  `json:"destination,omitempty"`
	Platform    *Platform `json:"platform,omitempty"`
	Departure   time.Time `json:"departure"`
}

// TransferTip tells passengers where to change for a given destination.
type TransferTip struct {
	Destination     *Station `json:"destination,omitempty"`
	TransferStation *Station `json:"transfer_station,omitempty"`
}

// Train is one imminent departure of one trip at one station. It is the
// central entity of the store; every feed message decodes into one Train.
type Train struct {
	TripID      string  `json:"trip_id"`
	TripStation Station `json:"trip_station"`
	TripDate    string  `json:"trip_date"`

	// MessageTimestamp orders updates within a (trip, station) slot: the
	// store never replaces a train with an older message.
	MessageTimestamp time.Time `json:"message_timestamp"`

	TrainNumber string        `json:"train_number"`
	Kind        TransportKind `json:"transport_kind"`
	Carrier     string        `json:"carrier"`
	TrainName   string        `json:"train_name,omitempty"`

	Status string `json:"status"`

	PlannedDeparture time.Time `json:"planned_departure"`
	CurrentDeparture time.Time `json:"current_departure"`

	ExactDelay  int `json:"exact_delay_seconds"`
	DampedDelay int `json:"damped_delay_seconds"`

	PlannedPlatforms []Platform `json:"planned_platform"`
	CurrentPlatforms []Platform `json:"current_platform"`

	PlannedDestinations []Station `json:"planned_destinations"`
	CurrentDestinations []Station `json:"current_destinations"`

	PlannedShortRoute []Station `json:"planned_short_route,omitempty"`
	CurrentShortRoute []Station `json:"current_short_route,omitempty"`

	ReservationRequired bool `json:"reservation_required"`
	SupplementRequired  bool `json:"supplement_required"`
	DoNotBoard          bool `json:"do_not_board"`
	SpecialTicket       bool `json:"special_ticket"`
	Shunting            bool `json:"shunting"`
	RearStaysBehind     bool `json:"rear_stays_behind"`

	Wings         []Wing         `json:"wings"`
	Modifications []Modification `json:"modifications,omitempty"`

	TravelTips   []TravelTip   `json:"travel_tips,omitempty"`
	BoardingTips []BoardingTip `json:"boarding_tips,omitempty"`
	TransferTips []TransferTip `json:"transfer_tips,omitempty"`

	// Synthetic marks trains installed through the injector rather than the
	// feed; they are garbage-collected more aggressively.
	Synthetic bool `json:"synthetic"`

	// DepartedAt is stamped when the train is marked departed, either by a
	// status-5 feed message or by the lifecycle engine. Nil until then.
	DepartedAt *time.Time `json:"departed_timestamp"`
}

// IsDeparted reports whether the feed status says the train has left.
func (t *Train) IsDeparted() bool {
	return t.Status == StatusDeparted
}

// IsCancelled reports whether a train-level modification cancels the trip.
func (t *Train) IsCancelled() bool {
	for _, m := range t.Modifications {
		if m.Kind == ModCancelled {
			return true
		}
	}
	return false
}

// PlatformChanged reports whether the current platform sequence differs from
// the planned one.
func (t *Train) PlatformChanged() bool {
	return !PlatformsEqual(t.PlannedPlatforms, t.CurrentPlatforms)
}

// MarkDeparted sets the departed status and stamps the departure time if it
// was not stamped before. Wing data and modification history are untouched so
// "just left" queries keep serving the full record.
func (t *Train) MarkDeparted(now time.Time) {
	t.Status = StatusDeparted
	if t.DepartedAt == nil {
		ts := now.UTC()
		t.DepartedAt = &ts
	}
}

// Clone returns a copy of the train. Nested slices share backing arrays;
// they are never mutated after decoding, only the status fields are.
func (t *Train) Clone() *Train {
	c := *t
	if t.DepartedAt != nil {
		ts := *t.DepartedAt
		c.DepartedAt = &ts
	}
	return &c
}

// NormalizeCarrier fixes the truncated carrier names the feed is known to
// emit.
func NormalizeCarrier(carrier string) string {
	switch carrier {
	case "NS Interna", "NS Int":
		return "NS International"
	case "Locon Bene":
		return "Locon Benelux"
	}
	return carrier
}
