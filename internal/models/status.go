package models

import "strings"

// StatusMeta is everything a presentational surface needs to draw a status.
type StatusMeta struct {
	Label    string
	Icon     string
	Color    string
	Animated bool
}

var statusMeta = map[Status]StatusMeta{
	StatusCompleted:  {Label: "Completed", Icon: "check-circle", Color: "green"},
	StatusFailed:     {Label: "Failed", Icon: "x-circle", Color: "red"},
	StatusProcessing: {Label: "Processing", Icon: "loader", Color: "yellow", Animated: true},
	StatusQueued:     {Label: "Queued", Icon: "hourglass", Color: "gray"},
	StatusCancelled:  {Label: "Cancelled", Icon: "x-circle", Color: "orange"},
}

// MetaFor returns the display metadata for s. Unknown statuses get a blue info badge
// labelled with the capitalized status string.
func MetaFor(s Status) StatusMeta {
	if m, ok := statusMeta[s]; ok {
		return m
	}
	label := string(s)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return StatusMeta{Label: label, Icon: "info", Color: "blue"}
}

// BadgeClass is the CSS class list for a status badge.
func (m StatusMeta) BadgeClass() string {
	return "badge badge-" + m.Color
}
