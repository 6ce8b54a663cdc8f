package httpapi

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/spigell/cv-matcher/internal/apperr"
	"github.com/spigell/cv-matcher/internal/ratelimit"
	"github.com/spigell/cv-matcher/internal/screening"
)

// uploads opens multipart files and closes them once the request is done.
type uploads struct {
	form  *multipart.Form
	files []multipart.File
}

func (s *server) parseUploads(w http.ResponseWriter, r *http.Request) (*uploads, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.New(apperr.KindInput, "Uploaded files are too large.", err)
		}
		return nil, apperr.New(apperr.KindInput, "Request must be a multipart form.", err)
	}
	return &uploads{form: r.MultipartForm}, nil
}

func (u *uploads) value(field string) string {
	if vs := u.form.Value[field]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// one returns the first file sent under field, or nil when the field is absent
// or carries an unnamed part.
func (u *uploads) one(field string) (*screening.Document, error) {
	for _, fh := range u.form.File[field] {
		if fh.Filename == "" {
			continue
		}
		return u.open(fh)
	}
	return nil, nil
}

func (u *uploads) all(field string) ([]screening.Document, error) {
	docs := make([]screening.Document, 0, len(u.form.File[field]))
	for _, fh := range u.form.File[field] {
		if fh.Filename == "" {
			continue
		}
		doc, err := u.open(fh)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (u *uploads) open(fh *multipart.FileHeader) (*screening.Document, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.New(apperr.KindInput, "Could not read uploaded file.", err)
	}
	u.files = append(u.files, f)
	return &screening.Document{Filename: fh.Filename, Body: f}, nil
}

func (u *uploads) close() {
	for _, f := range u.files {
		_ = f.Close()
	}
	_ = u.form.RemoveAll()
}

func (s *server) caller(r *http.Request) screening.Caller {
	return screening.Caller{
		Identity: ratelimit.ClientIdentity(r, s.trustForwardedFor),
		User:     currentUser(r),
	}
}

func setQuotaHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-Rate-Limit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(d.Remaining))
}

func (s *server) employee(w http.ResponseWriter, r *http.Request) {
	up, err := s.parseUploads(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer up.close()

	cv, err := up.one("file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	jd, err := up.one("jd_file")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.screening.Single(r.Context(), s.caller(r), screening.SingleRequest{
		CV:     cv,
		JDText: up.value("jd_text"),
		JD:     jd,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	setQuotaHeaders(w, res.Decision)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) employer(w http.ResponseWriter, r *http.Request) {
	up, err := s.parseUploads(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer up.close()

	candidates, err := up.all("candidates")
	if err != nil {
		writeError(w, r, err)
		return
	}
	jd, err := up.one("jd_file")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.screening.Batch(r.Context(), s.caller(r), screening.BatchRequest{
		Candidates: candidates,
		JDText:     up.value("jd_text"),
		JD:         jd,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	setQuotaHeaders(w, res.Decision)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) demo(w http.ResponseWriter, r *http.Request) {
	up, err := s.parseUploads(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer up.close()

	cv, err := up.one("file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	jd, err := up.one("jd_file")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.screening.Demo(r.Context(), s.caller(r), screening.DemoRequest{CV: cv, JD: jd})
	if err != nil {
		writeError(w, r, err)
		return
	}

	setQuotaHeaders(w, res.Decision)
	writeJSON(w, http.StatusOK, res)
}
