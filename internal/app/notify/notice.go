// Package notify carries semantic notices from the playback core to
// whatever presentation layer is attached. The core never formats
// user-facing text beyond a (title, body, severity) triple plus
// optional structured fields.
package notify

// Severity classifies a notice for presentation.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Field is one structured key/value pair attached to a notice, e.g.
// the next-up track or the resulting queue size.
type Field struct {
	Name  string
	Value string
}

// Notice is one semantic notification triple with routing information.
type Notice struct {
	GuildID   string
	ChannelID string // Target text channel; empty means no known channel
	Title     string
	Body      string
	Severity  Severity
	Fields    []Field
}
