package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	gopath "path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// addCalDAVEvent creates an all-day event on a CalDAV calendar from the
// record's event_date and the action's summary template. The event UID is
// derived deterministically from (calendar, date, summary), so re-ingesting
// the same document overwrites the same object instead of duplicating it.
func (d *Dispatcher) addCalDAVEvent(ctx context.Context, a config.Action, rec Record) error {
	dateRaw, ok := rec.Fields["event_date"].(string)
	if !ok || strings.TrimSpace(dateRaw) == "" {
		return fmt.Errorf("record has no event_date field")
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(dateRaw), time.UTC)
	if err != nil {
		return fmt.Errorf("event_date %q: %w", dateRaw, err)
	}

	data := templateData(rec.Fields)
	summary := rec.Profile.Name
	if a.SummaryTemplate != "" {
		if summary, err = expandTemplate(a.SummaryTemplate, data); err != nil {
			return err
		}
	}

	calURL, err := resolveCalendarURL(a, rec)
	if err != nil {
		return err
	}

	httpc := webdav.HTTPClient(d.http)
	if a.UsernameEnv != "" {
		httpc = webdav.HTTPClientWithBasicAuth(d.http, os.Getenv(a.UsernameEnv), os.Getenv(a.PasswordEnv))
	}
	client, err := caldav.NewClient(httpc, calURL)
	if err != nil {
		return fmt.Errorf("caldav client: %w", err)
	}

	uid := uuid.NewSHA1(uuid.NameSpaceURL, []byte(calURL+"|"+dateRaw+"|"+summary)).String()
	cal := buildEvent(uid, day, summary, describeRecord(rec))

	u, err := url.Parse(calURL)
	if err != nil {
		return fmt.Errorf("parse calendar url: %w", err)
	}
	objPath := gopath.Join(u.Path, uid+".ics")
	if _, err := client.PutCalendarObject(ctx, objPath, cal); err != nil {
		return fmt.Errorf("put calendar object: %w", err)
	}
	return nil
}

// resolveCalendarURL picks the target calendar. When calendar_map is set,
// the first record string value with a mapping selects a calendar name that
// is appended to the base URL; otherwise the base URL is used as-is.
func resolveCalendarURL(a config.Action, rec Record) (string, error) {
	base := strings.TrimRight(a.CalendarURL, "/")
	if len(a.CalendarMap) == 0 {
		return base, nil
	}
	for _, f := range rec.Profile.Fields {
		v, ok := rec.Fields[f.Name].(string)
		if !ok {
			continue
		}
		if name, mapped := a.CalendarMap[v]; mapped {
			return base + "/" + url.PathEscape(name), nil
		}
	}
	return "", fmt.Errorf("no record value matches calendar_map")
}

func buildEvent(uid string, day time.Time, summary, description string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//print-etl//NONSGML v1.0//EN")

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ev.Props.SetText(ical.PropSummary, summary)
	if description != "" {
		ev.Props.SetText(ical.PropDescription, description)
	}

	start := ical.NewProp(ical.PropDateTimeStart)
	start.SetValueType(ical.ValueDate)
	start.Value = day.Format("20060102")
	ev.Props.Set(start)

	end := ical.NewProp(ical.PropDateTimeEnd)
	end.SetValueType(ical.ValueDate)
	end.Value = day.AddDate(0, 0, 1).Format("20060102")
	ev.Props.Set(end)

	cal.Children = append(cal.Children, ev.Component)
	return cal
}

// describeRecord renders the record fields as event description lines, in
// profile declaration order.
func describeRecord(rec Record) string {
	var b strings.Builder
	for _, f := range rec.Profile.Fields {
		v, ok := rec.Fields[f.Name]
		if !ok {
			continue
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		switch t := v.(type) {
		case []string:
			b.WriteString(strings.Join(t, ", "))
		default:
			b.WriteString(fmt.Sprintf("%v", t))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
