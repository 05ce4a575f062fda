package email

import (
	"fmt"
	"strings"
)

// Summary is the envelope view of one inbox message. Absent fields are
// empty strings.
type Summary struct {
	SeqNum  uint32
	From    string
	Subject string
	Date    string
}

// NewSummary builds a Summary, replacing invalid UTF-8 in each field.
func NewSummary(seqNum uint32, from, subject, date string) Summary {
	return Summary{
		SeqNum:  seqNum,
		From:    strings.ToValidUTF8(from, "\uFFFD"),
		Subject: strings.ToValidUTF8(subject, "\uFFFD"),
		Date:    strings.ToValidUTF8(date, "\uFFFD"),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("\nFrom: %s\nSubject: %s\nDate: %s", s.From, s.Subject, s.Date)
}
