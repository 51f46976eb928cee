package dispatchapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taxiride/tripsim/internal/booking"
)

// naiveTimeLayout is an ISO 8601 timestamp without zone, read as UTC.
const naiveTimeLayout = "2006-01-02T15:04:05.999999999"

// bookingResponse is the confirm response. created_at may or may not carry
// a zone.
type bookingResponse struct {
	booking.Quote
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func (r bookingResponse) toBooking() (*booking.Booking, error) {
	if r.ID == "" {
		return nil, errors.New("booking without id")
	}

	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &booking.Booking{Quote: r.Quote, ID: r.ID, CreatedAt: createdAt}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("booking without created_at")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at %q: %w", s, err)
	}
	return t, nil
}

// errorBody covers the error shapes the service may answer with: a plain
// {"detail": "..."}, a validation list {"detail": [{"msg": ...}]}, and an
// RFC 7807 problem with title, detail and code.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Title  string          `json:"title"`
	Code   string          `json:"code"`
}

type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseErrorBody extracts a displayable detail and an error code.
func parseErrorBody(body []byte) (detail, code string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", ""
	}

	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return s, eb.Code
		}

		var issues []validationIssue
		if err := json.Unmarshal(eb.Detail, &issues); err == nil {
			msgs := make([]string, 0, len(issues))
			for _, issue := range issues {
				if issue.Msg == "" {
					continue
				}
				if field := lastLoc(issue.Loc); field != "" {
					msgs = append(msgs, field+": "+issue.Msg)
				} else {
					msgs = append(msgs, issue.Msg)
				}
			}
			return strings.Join(msgs, "; "), eb.Code
		}
	}

	return eb.Title, eb.Code
}

func lastLoc(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	if s, ok := loc[len(loc)-1].(string); ok {
		return s
	}
	return ""
}
