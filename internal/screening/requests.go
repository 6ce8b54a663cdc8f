package screening

import (
	"io"
	"strings"

	"github.com/spigell/cv-matcher/internal/ai"
	"github.com/spigell/cv-matcher/internal/apperr"
	"github.com/spigell/cv-matcher/internal/extract"
	"github.com/spigell/cv-matcher/internal/ratelimit"
	"github.com/spigell/cv-matcher/internal/storage"
)

var (
	ErrNoJD         = apperr.Input("No JD provided. Please provide JD text or JD file.")
	ErrNoJDFile     = apperr.Input("No JD Provided. Please upload JD file (Docx or PDF).")
	ErrNoCV         = apperr.Input("No CV Provided. Please upload CV file (Docx or PDF).")
	ErrNoCandidates = apperr.Input("No candidate CVs provided.")
)

// Document is an uploaded file as declared by the client.
type Document struct {
	Filename string
	Body     io.Reader
}

func (d *Document) present() bool {
	return d != nil && d.Body != nil && strings.TrimSpace(d.Filename) != ""
}

// Caller identifies who is asking. User is nil for anonymous requests.
type Caller struct {
	Identity string
	User     *storage.User
}

type SingleRequest struct {
	CV     *Document
	JDText string
	JD     *Document
}

func (r SingleRequest) validate() error {
	if strings.TrimSpace(r.JDText) == "" && !r.JD.present() {
		return ErrNoJD
	}
	if !r.CV.present() {
		return ErrNoCV
	}
	if !extract.Supported(r.CV.Filename) {
		return extract.ErrUnsupportedType
	}
	if strings.TrimSpace(r.JDText) == "" && !extract.Supported(r.JD.Filename) {
		return extract.ErrUnsupportedType
	}
	return nil
}

type BatchRequest struct {
	Candidates []Document
	JDText     string
	JD         *Document
}

func (r BatchRequest) validate() error {
	if strings.TrimSpace(r.JDText) == "" && !r.JD.present() {
		return ErrNoJD
	}
	if len(r.Candidates) == 0 {
		return ErrNoCandidates
	}
	if strings.TrimSpace(r.JDText) == "" && !extract.Supported(r.JD.Filename) {
		return extract.ErrUnsupportedType
	}
	return nil
}

type DemoRequest struct {
	CV *Document
	JD *Document
}

func (r DemoRequest) validate() error {
	if !r.JD.present() {
		return ErrNoJDFile
	}
	if !r.CV.present() {
		return ErrNoCV
	}
	if !extract.Supported(r.CV.Filename) || !extract.Supported(r.JD.Filename) {
		return extract.ErrUnsupportedType
	}
	return nil
}

// RateLimit is the quota summary attached to single and demo results.
type RateLimit struct {
	Remaining       int `json:"remaining_requests"`
	Max             int `json:"max_requests"`
	ResetAfterHours int `json:"reset_after_hours"`
}

type SingleResult struct {
	ai.MatchResult
	RateLimit RateLimit `json:"rate_limit"`

	Decision ratelimit.Decision `json:"-"`
}

type Candidate struct {
	Filename string `json:"filename"`
	ai.MatchResult
	Position int `json:"Position"`
}

type BatchResult struct {
	BatchID         string      `json:"employer_id"`
	Count           int         `json:"candidates_count"`
	Candidates      []Candidate `json:"candidates_results"`
	Remaining       int         `json:"remaining_requests"`
	Max             int         `json:"maximum_requests"`
	ResetAfterHours int         `json:"reset_after_hours"`

	Decision ratelimit.Decision `json:"-"`
}
