package notify

import (
	"fmt"
	"slices"
	"strings"

	"coursetracker/internal/course"
)

const (
	fallbackName = "Course Tracker User"
	updateIntro  = "Following courses statuses have been updated in website:"
	statusIntro  = "Please find your course statuses on NCSU website:"
	summaryIntro = "Status updated job executed successfully!"
)

func sortedEmails(subs course.SubscriberMap) []string {
	emails := make([]string, 0, len(subs))
	for e := range subs {
		emails = append(emails, e)
	}
	slices.Sort(emails)
	return emails
}

func writeSections(b *strings.Builder, record *course.Record) {
	switch record.Status() {
	case course.StateInvalid:
		b.WriteString("\tno sections offered\n")
	case course.StatePending:
		b.WriteString("\tnot checked yet\n")
	default:
		for _, section := range record.Sections {
			fmt.Fprintf(b, "\tlocation = %s\t# availability = %s\n", section.Location, section.Availability)
		}
	}
}

func formatSubscriberBody(name, intro string, keys []course.Key, snap course.Snapshot, registrationUrl string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Hello %s,\n\n%s\n\n", name, intro)

	for _, key := range keys {
		record, ok := snap[key]
		if !ok || record == nil {
			continue
		}
		fmt.Fprintf(b, "%s:\n", key)
		if record.Status() == course.StatePopulated {
			fmt.Fprintf(b, "\tname = %s,\n", record.Name)
		}
		writeSections(b, record)
		b.WriteString("\n")
	}

	if registrationUrl != "" {
		fmt.Fprintf(b, "\nRegister courses at: %s", registrationUrl)
	}
	b.WriteString("\n\nThank you.")
	return b.String()
}

func formatSummaryBody(snap course.Snapshot) string {
	b := &strings.Builder{}
	b.WriteString(summaryIntro)
	b.WriteString("\n\n")

	for _, key := range snap.Keys() {
		record := snap[key]
		if record == nil {
			continue
		}
		fmt.Fprintf(b, "%s - %s: \n", key, record.Name)
		writeSections(b, record)
	}
	return b.String()
}
