package sanitizer

import (
	"strings"

	"medslots/pkg/model"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

var (
	identifierPipeline = Pipeline{strings.TrimSpace}
	timeRangePipeline  = Pipeline{removeSpaces}
)

func SanitizeIdentifier(input string) string {
	return identifierPipeline.Apply(input)
}

func SanitizeTimeRange(input string) string {
	return timeRangePipeline.Apply(input)
}

// SanitizeReservationRequest normalizes req in place.
func SanitizeReservationRequest(req *model.ReservationRequest) {
	if req == nil {
		return
	}
	req.UserID = SanitizeIdentifier(req.UserID)
	req.SessionID = SanitizeIdentifier(req.SessionID)
	req.StaffID = SanitizeIdentifier(req.StaffID)
	req.Date = strings.TrimSpace(req.Date)
	req.TimeRange = SanitizeTimeRange(req.TimeRange)
}
