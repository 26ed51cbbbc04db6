package export

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

// CalendarEvent is one class occurrence. Weekly events repeat every week from Start.
type CalendarEvent struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	Weekly      bool
}

// ICSExporter renders calendar events as an iCalendar document.
type ICSExporter struct {
	productID string
}

// NewICSExporter constructs an iCalendar exporter.
func NewICSExporter() *ICSExporter {
	return &ICSExporter{productID: "-//wa-attendance-api//schedule//EN"}
}

// Render produces the VCALENDAR text for the given events.
func (e *ICSExporter) Render(name, timezone string, events []CalendarEvent) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("ics requires at least one event")
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(e.productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	if timezone != "" {
		cal.SetXWRTimezone(timezone)
	}

	stamp := time.Now().UTC()
	for _, ev := range events {
		if ev.UID == "" {
			return nil, fmt.Errorf("event %q missing uid", ev.Summary)
		}
		if !ev.End.After(ev.Start) {
			return nil, fmt.Errorf("event %s ends before it starts", ev.UID)
		}
		vevent := cal.AddEvent(ev.UID)
		vevent.SetDtStampTime(stamp)
		vevent.SetStartAt(ev.Start)
		vevent.SetEndAt(ev.End)
		vevent.SetSummary(ev.Summary)
		if ev.Location != "" {
			vevent.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if ev.Weekly {
			vevent.AddRrule("FREQ=WEEKLY")
		}
	}
	return []byte(cal.Serialize()), nil
}
