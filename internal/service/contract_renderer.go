package service

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ContractFields carries the values substituted into template placeholders.
// Placeholders use the {{name}} form; unknown placeholders are left intact.
type ContractFields struct {
	StudentName string
	CourseName  string
	Semester    int
	Year        int
	Institution string
	IssuedOn    time.Time
}

func (f ContractFields) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{student_name}}", f.StudentName,
		"{{course_name}}", f.CourseName,
		"{{semester}}", strconv.Itoa(f.Semester),
		"{{year}}", strconv.Itoa(f.Year),
		"{{institution}}", f.Institution,
		"{{issued_on}}", f.IssuedOn.Format("2006-01-02"),
	)
}

// ContractRenderer turns a template body plus fields into a stored PDF.
type ContractRenderer struct {
	store       blobStore
	institution string
}

// NewContractRenderer constructs a renderer writing into the given store.
func NewContractRenderer(store blobStore, institution string) *ContractRenderer {
	return &ContractRenderer{store: store, institution: institution}
}

// Render substitutes fields into the template body, lays the result out as a
// PDF and saves it under contracts/<contractID>.pdf. Returns the stored path.
func (r *ContractRenderer) Render(contractID, templateBody string, fields ContractFields) (string, error) {
	if fields.Institution == "" {
		fields.Institution = r.institution
	}
	body := fields.replacer().Replace(templateBody)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Enrollment Contract %d/%d", fields.Semester, fields.Year), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, fields.Institution, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 8, fmt.Sprintf("Term %d/%d", fields.Semester, fields.Year), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	for _, paragraph := range strings.Split(body, "\n") {
		paragraph = strings.TrimRight(paragraph, "\r")
		if paragraph == "" {
			pdf.Ln(4)
			continue
		}
		pdf.MultiCell(0, 6, paragraph, "", "J", false)
	}

	pdf.Ln(12)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued on %s", fields.IssuedOn.Format("2006-01-02")), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return "", fmt.Errorf("render contract pdf: %w", err)
	}
	relPath := filepath.Join("contracts", contractID+".pdf")
	storedPath, err := r.store.SaveStream(relPath, &buf)
	if err != nil {
		return "", fmt.Errorf("store contract pdf: %w", err)
	}
	return storedPath, nil
}
