// Package decoder translates InfoPlus DVS XML documents into model.Train
// values.
//
// The feed publishes one XML document per departure update. Two namespaces
// are accepted: the current one (data:4) and the legacy DVS-TIBCO one
// (data:2). Structurally broken documents yield ErrMalformed and are dropped
// by the caller; a missing optional field merely leaves the corresponding
// model field unset and is logged at debug level.
package decoder

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"
	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
)

// ErrMalformed marks a DVS document that cannot be decoded at all: XML that
// does not parse, an unknown namespace, or required elements that are absent.
var ErrMalformed = errors.New("malformed DVS message")

const (
	namespaceCurrent = "urn:ndov:cdm:trein:reisinformatie:data:4"
	namespaceLegacy  = "urn:ndov:cdm:trein:reisinformatie:data:2"
)

const (
	infoStatusPlanned = "Gepland"
	infoStatusActual  = "Actueel"
)

// Decoder decodes DVS XML documents.
type Decoder struct {
	logger *zap.Logger
}

// NewDecoder constructs a Decoder.
func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// ── XML document shape ────────────────────────────────────────────────────

// The element structs match on local names only, which accepts both
// namespaces; the namespace itself is validated on the product element.

type xmlDocument struct {
	XMLName xml.Name
	Product *xmlProduct `xml:"ReisInformatieProductDVS"`
}

type xmlProduct struct {
	XMLName   xml.Name
	Timestamp string         `xml:"TimeStamp,attr"`
	Staat     *xmlVertrekken `xml:"DynamischeVertrekStaat"`
}

type xmlVertrekken struct {
	RitDatum   string      `xml:"RitDatum"`
	RitStation *xmlStation `xml:"RitStation"`
	Trein      *xmlTrein   `xml:"Trein"`
}

type xmlStation struct {
	Code       string `xml:"StationCode"`
	ShortName  string `xml:"KorteNaam"`
	MediumName string `xml:"MiddelNaam"`
	LongName   string `xml:"LangeNaam"`
	UIC        string `xml:"UICCode"`
	Type       string `xml:"Type"`
}

type xmlKind struct {
	Code string `xml:"Code,attr"`
	Name string `xml:",chardata"`
}

type xmlInfoText struct {
	InfoStatus string `xml:"InfoStatus,attr"`
	Value      string `xml:",chardata"`
}

type xmlPlatform struct {
	InfoStatus string `xml:"InfoStatus,attr"`
	Number     string `xml:"SpoorNummer"`
	Phase      string `xml:"SpoorFase"`
}

type xmlStationInfo struct {
	InfoStatus string `xml:"InfoStatus,attr"`
	xmlStation
}

type xmlRoute struct {
	InfoStatus string       `xml:"InfoStatus,attr"`
	Stations   []xmlStation `xml:"Station"`
}

type xmlModification struct {
	Kind       string      `xml:"WijzigingType"`
	CauseShort string      `xml:"WijzigingOorzaakKort"`
	CauseLong  string      `xml:"WijzigingOorzaakLang"`
	Station    *xmlStation `xml:"WijzigingStation"`
}

type xmlTravelTip struct {
	Code     string       `xml:"ReisTipCode"`
	Stations []xmlStation `xml:"ReisTipStation"`
}

type xmlBoardingTip struct {
	ExitStation *xmlStation  `xml:"InstapTipUitstapStation"`
	Destination *xmlStation  `xml:"InstapTipTreinEindBestemming"`
	Kind        string       `xml:"InstapTipTreinSoort"`
	Platform    *xmlPlatform `xml:"InstapTipVertrekSpoor"`
	Departure   string       `xml:"InstapTipVertrekTijd"`
}

type xmlTransferTip struct {
	Destination     *xmlStation `xml:"OverstapTipBestemming"`
	TransferStation *xmlStation `xml:"OverstapTipOverstapStation"`
}

type xmlRollingStock struct {
	Kind         string           `xml:"MaterieelSoort"`
	Designation  string           `xml:"MaterieelAanduiding"`
	Length       string           `xml:"MaterieelLengte"`
	Destinations []xmlStationInfo `xml:"MaterieelDeelEindBestemming"`
	Position     string           `xml:"MaterieelDeelVertrekPositie"`
	Order        string           `xml:"MaterieelDeelVolgordeVertrek"`
	UnitNumber   string           `xml:"MaterieelNummer"`
}

type xmlWing struct {
	Destinations  []xmlStationInfo  `xml:"TreinVleugelEindBestemming"`
	Platforms     []xmlPlatform     `xml:"TreinVleugelVertrekSpoor"`
	Stops         []xmlRoute        `xml:"StopStations"`
	RollingStock  []xmlRollingStock `xml:"MaterieelDeelDVS"`
	Modifications []xmlModification `xml:"Wijziging"`
}

type xmlTrein struct {
	Number        string            `xml:"TreinNummer"`
	Kind          *xmlKind          `xml:"TreinSoort"`
	Carrier       string            `xml:"Vervoerder"`
	Name          string            `xml:"TreinNaam"`
	Status        string            `xml:"TreinStatus"`
	Departures    []xmlInfoText     `xml:"VertrekTijd"`
	ExactDelay    string            `xml:"ExacteVertrekVertraging"`
	DampedDelay   string            `xml:"GedempteVertrekVertraging"`
	Platforms     []xmlPlatform     `xml:"TreinVertrekSpoor"`
	Destinations  []xmlStationInfo  `xml:"TreinEindBestemming"`
	Reservation   string            `xml:"Reserveren"`
	Supplement    string            `xml:"Toeslag"`
	DoNotBoard    string            `xml:"NietInstappen"`
	Shunting      string            `xml:"RangeerBeweging"`
	SpecialTicket string            `xml:"SpeciaalKaartje"`
	RearStays     string            `xml:"AchterBlijvenAchtersteTreinDeel"`
	Modifications []xmlModification `xml:"Wijziging"`
	TravelTips    []xmlTravelTip    `xml:"ReisTip"`
	BoardingTips  []xmlBoardingTip  `xml:"InstapTip"`
	TransferTips  []xmlTransferTip  `xml:"OverstapTip"`
	ShortRoutes   []xmlRoute        `xml:"VerkorteRoute"`
	Wings         []xmlWing         `xml:"TreinVleugel"`
}

// ── decoding ──────────────────────────────────────────────────────────────

// Decode parses one decompressed DVS XML document into a Train.
func (d *Decoder) Decode(data []byte) (*model.Train, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	product := doc.Product
	if product == nil {
		return nil, fmt.Errorf("%w: ReisInformatieProductDVS element missing", ErrMalformed)
	}
	if product.XMLName.Space != namespaceCurrent && product.XMLName.Space != namespaceLegacy {
		return nil, fmt.Errorf("%w: unknown namespace %q", ErrMalformed, product.XMLName.Space)
	}
	staat := product.Staat
	if staat == nil || staat.Trein == nil || staat.RitStation == nil {
		return nil, fmt.Errorf("%w: DynamischeVertrekStaat incomplete", ErrMalformed)
	}

	node := staat.Trein
	if node.Number == "" || node.Kind == nil || node.Status == "" {
		return nil, fmt.Errorf("%w: train node incomplete", ErrMalformed)
	}

	messageTS, err := parseTimestamp(product.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: product timestamp: %v", ErrMalformed, err)
	}

	train := &model.Train{
		TripID:           node.Number,
		TripStation:      station(staat.RitStation),
		TripDate:         staat.RitDatum,
		MessageTimestamp: messageTS,
		TrainNumber:      node.Number,
		Kind:             model.TransportKind{Code: node.Kind.Code, Name: node.Kind.Name},
		Carrier:          model.NormalizeCarrier(node.Carrier),
		TrainName:        node.Name,
		Status:           node.Status,
	}

	planned, ok := departureTime(node.Departures, infoStatusPlanned)
	if !ok {
		return nil, fmt.Errorf("%w: planned departure time missing", ErrMalformed)
	}
	current, ok := departureTime(node.Departures, infoStatusActual)
	if !ok {
		return nil, fmt.Errorf("%w: current departure time missing", ErrMalformed)
	}
	train.PlannedDeparture = planned
	train.CurrentDeparture = current

	train.ExactDelay = d.delaySeconds(node.ExactDelay, "ExacteVertrekVertraging", train)
	train.DampedDelay = d.delaySeconds(node.DampedDelay, "GedempteVertrekVertraging", train)

	train.PlannedPlatforms = platforms(node.Platforms, infoStatusPlanned)
	train.CurrentPlatforms = platforms(node.Platforms, infoStatusActual)

	train.PlannedDestinations = destinations(node.Destinations, infoStatusPlanned)
	train.CurrentDestinations = destinations(node.Destinations, infoStatusActual)

	train.PlannedShortRoute = route(node.ShortRoutes, infoStatusPlanned)
	train.CurrentShortRoute = route(node.ShortRoutes, infoStatusActual)

	train.ReservationRequired = parseBool(node.Reservation)
	train.SupplementRequired = parseBool(node.Supplement)
	train.SpecialTicket = parseBool(node.SpecialTicket)
	train.Shunting = parseBool(node.Shunting)
	train.RearStaysBehind = parseBool(node.RearStays)
	if node.DoNotBoard == "" {
		d.logger.Debug("element NietInstappen missing",
			zap.String("train", train.TrainNumber),
			zap.String("station", train.TripStation.Code))
	} else {
		train.DoNotBoard = parseBool(node.DoNotBoard)
	}

	train.Modifications = d.modifications(node.Modifications)
	train.TravelTips = travelTips(node.TravelTips)
	train.BoardingTips = d.boardingTips(node.BoardingTips, train)
	train.TransferTips = transferTips(node.TransferTips)

	for _, w := range node.Wings {
		train.Wings = append(train.Wings, d.wing(w))
	}
	if len(train.Wings) == 0 {
		return nil, fmt.Errorf("%w: train without wings", ErrMalformed)
	}

	return train, nil
}

func (d *Decoder) wing(w xmlWing) model.Wing {
	wing := model.Wing{
		PlannedDestination: destination(w.Destinations, infoStatusPlanned),
		CurrentDestination: destination(w.Destinations, infoStatusActual),
		PlannedPlatforms:   platforms(w.Platforms, infoStatusPlanned),
		CurrentPlatforms:   platforms(w.Platforms, infoStatusActual),
		PlannedStops:       route(w.Stops, infoStatusPlanned),
		CurrentStops:       route(w.Stops, infoStatusActual),
		Modifications:      d.modifications(w.Modifications),
	}
	for _, m := range w.RollingStock {
		wing.RollingStock = append(wing.RollingStock, model.RollingStockPart{
			Kind:               m.Kind,
			Designation:        m.Designation,
			Length:             m.Length,
			PlannedDestination: destination(m.Destinations, infoStatusPlanned),
			CurrentDestination: destination(m.Destinations, infoStatusActual),
			Position:           m.Position,
			DepartureOrder:     m.Order,
			UnitNumber:         m.UnitNumber,
		})
	}
	return wing
}

func (d *Decoder) modifications(nodes []xmlModification) []model.Modification {
	if len(nodes) == 0 {
		return nil
	}
	mods := make([]model.Modification, 0, len(nodes))
	for _, n := range nodes {
		kind, err := strconv.Atoi(strings.TrimSpace(n.Kind))
		if err != nil {
			d.logger.Debug("unparseable modification kind", zap.String("kind", n.Kind))
			continue
		}
		mod := model.Modification{
			Kind:       kind,
			CauseShort: n.CauseShort,
			CauseLong:  n.CauseLong,
		}
		if n.Station != nil {
			s := station(n.Station)
			mod.Station = &s
		}
		mods = append(mods, mod)
	}
	return mods
}

func (d *Decoder) boardingTips(nodes []xmlBoardingTip, train *model.Train) []model.BoardingTip {
	var tips []model.BoardingTip
	for _, n := range nodes {
		tip := model.BoardingTip{Kind: n.Kind}
		if n.ExitStation != nil {
			s := station(n.ExitStation)
			tip.ExitStation = &s
		}
		if n.Destination != nil {
			s := station(n.Destination)
			tip.Destination = &s
		}
		if n.Platform != nil {
			tip.Platform = &model.Platform{Number: n.Platform.Number, Phase: n.Platform.Phase}
		}
		if n.Departure != "" {
			ts, err := parseTimestamp(n.Departure)
			if err != nil {
				d.logger.Debug("unparseable boarding tip departure",
					zap.String("value", n.Departure),
					zap.String("train", train.TrainNumber))
			} else {
				tip.Departure = ts
			}
		}
		tips = append(tips, tip)
	}
	return tips
}

func (d *Decoder) delaySeconds(value, element string, train *model.Train) int {
	if value == "" {
		d.logger.Debug("delay element missing",
			zap.String("element", element),
			zap.String("train", train.TrainNumber),
			zap.String("station", train.TripStation.Code))
		return 0
	}
	secs, err := ParseDelay(value)
	if err != nil {
		d.logger.Debug("unparseable delay",
			zap.String("element", element),
			zap.String("value", value),
			zap.Error(err))
		return 0
	}
	return secs
}

// ── element helpers ───────────────────────────────────────────────────────

func station(n *xmlStation) model.Station {
	return model.Station{
		Code:       n.Code,
		ShortName:  n.ShortName,
		MediumName: n.MediumName,
		LongName:   n.LongName,
		UIC:        n.UIC,
		Type:       n.Type,
	}
}

func departureTime(nodes []xmlInfoText, status string) (time.Time, bool) {
	for _, n := range nodes {
		if n.InfoStatus != status {
			continue
		}
		ts, err := parseTimestamp(strings.TrimSpace(n.Value))
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}

func platforms(nodes []xmlPlatform, status string) []model.Platform {
	var out []model.Platform
	for _, n := range nodes {
		if n.InfoStatus == status {
			out = append(out, model.Platform{Number: n.Number, Phase: n.Phase})
		}
	}
	return out
}

func destinations(nodes []xmlStationInfo, status string) []model.Station {
	var out []model.Station
	for _, n := range nodes {
		if n.InfoStatus == status {
			out = append(out, station(&n.xmlStation))
		}
	}
	return out
}

func destination(nodes []xmlStationInfo, status string) *model.Station {
	for _, n := range nodes {
		if n.InfoStatus == status {
			s := station(&n.xmlStation)
			return &s
		}
	}
	return nil
}

func route(nodes []xmlRoute, status string) []model.Station {
	for _, n := range nodes {
		if n.InfoStatus != status {
			continue
		}
		out := make([]model.Station, 0, len(n.Stations))
		for i := range n.Stations {
			out = append(out, station(&n.Stations[i]))
		}
		return out
	}
	return nil
}

func travelTips(nodes []xmlTravelTip) []model.TravelTip {
	var tips []model.TravelTip
	for _, n := range nodes {
		tip := model.TravelTip{Code: n.Code}
		for i := range n.Stations {
			tip.Stations = append(tip.Stations, station(&n.Stations[i]))
		}
		tips = append(tips, tip)
	}
	return tips
}

func transferTips(nodes []xmlTransferTip) []model.TransferTip {
	var tips []model.TransferTip
	for _, n := range nodes {
		tip := model.TransferTip{}
		if n.Destination != nil {
			s := station(n.Destination)
			tip.Destination = &s
		}
		if n.TransferStation != nil {
			s := station(n.TransferStation)
			tip.TransferStation = &s
		}
		tips = append(tips, tip)
	}
	return tips
}

// parseTimestamp parses an ISO-8601 timestamp and canonicalizes it to UTC.
func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// ParseDelay parses an ISO-8601 duration into whole seconds. The feed emits
// negative durations with a leading minus sign ("-PT2M"), which the duration
// library does not accept on its own.
func ParseDelay(value string) (int, error) {
	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}
	d, err := duration.Parse(value)
	if err != nil {
		return 0, err
	}
	secs := int(d.ToTimeDuration() / time.Second)
	if negative {
		secs = -secs
	}
	return secs, nil
}

// parseBool translates the feed's boolean convention: "J" is true, anything
// else is false.
func parseBool(value string) bool {
	return value == "J"
}
