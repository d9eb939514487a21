package chatsync

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const transcriptSheet = "Transcript"

var transcriptHeaders = []string{"Message ID", "Sender", "Sent At", "Message"}

// WriteTranscriptXLSX writes conv and its confirmed messages to w as an xlsx
// workbook. Unconfirmed optimistic entries are left out.
func WriteTranscriptXLSX(w io.Writer, conv Conversation, msgs []Message) error {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it rather than add and delete.
	if err := f.SetSheetName("Sheet1", transcriptSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	title := "Conversation " + conv.ID
	if conv.CustomerName != "" {
		title += " with " + conv.CustomerName
	}
	f.SetCellValue(transcriptSheet, "A1", title)

	for i, header := range transcriptHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		f.SetCellValue(transcriptSheet, cell, header)
	}
	f.SetColWidth(transcriptSheet, "D", "D", 80)

	row := 4
	for _, m := range msgs {
		if m.IsTemp || m.ID.IsTemp() {
			continue
		}
		if n, ok := m.ID.Numeric(); ok {
			f.SetCellValue(transcriptSheet, fmt.Sprintf("A%d", row), n)
		} else {
			f.SetCellValue(transcriptSheet, fmt.Sprintf("A%d", row), string(m.ID))
		}
		f.SetCellValue(transcriptSheet, fmt.Sprintf("B%d", row), string(m.SenderType))
		f.SetCellValue(transcriptSheet, fmt.Sprintf("C%d", row), m.CreatedAt.Format("02.01.2006 15:04:05"))
		f.SetCellValue(transcriptSheet, fmt.Sprintf("D%d", row), m.Text)
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
