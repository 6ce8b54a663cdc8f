package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/cv-matcher/internal/ai"
	"github.com/spigell/cv-matcher/internal/apperr"
	"github.com/spigell/cv-matcher/internal/auth"
	"github.com/spigell/cv-matcher/internal/logger"
	"github.com/spigell/cv-matcher/internal/storage"
	"github.com/spigell/cv-matcher/internal/utils"
)

const (
	historyLimit      = 20
	historyPreviewLen = 100
)

var errNotAuthenticated = apperr.Unauthorized("Not authenticated")

func (s *server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			writeError(w, r, errNotAuthenticated)
			return
		}

		user, err := s.accounts.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		log := logger.WithFields(requestLogger(r), logger.UserFields(user.IDHex(), string(user.UserType))...)
		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, loggerKey, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.KindInput, "Request body must be a valid JSON object.", err)
	}
	return nil
}

func (s *server) registerEmployee(w http.ResponseWriter, r *http.Request) {
	var reg auth.EmployeeRegistration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.accounts.RegisterEmployee(r.Context(), reg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) registerEmployer(w http.ResponseWriter, r *http.Request) {
	var reg auth.EmployerRegistration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.accounts.RegisterEmployer(r.Context(), reg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// token exchanges form credentials (username, password, user_type) for an
// access token.
func (s *server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, apperr.New(apperr.KindInput, "Invalid form body.", err))
		return
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	userType := r.PostForm.Get("user_type")
	if username == "" || password == "" || userType == "" {
		writeError(w, r, apperr.Input("username, password and user_type are required"))
		return
	}

	token, err := s.accounts.Login(r.Context(), username, password, storage.UserType(userType))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type profileResponse struct {
	UserID      string           `json:"user_id"`
	FullName    *string          `json:"full_name,omitempty"`
	CompanyName *string          `json:"company_name,omitempty"`
	Email       string           `json:"email"`
	UserType    storage.UserType `json:"user_type"`
	CreatedAt   string           `json:"created_at"`
	Active      bool             `json:"is_active"`
}

func (s *server) profile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	resp := profileResponse{
		UserID:    user.IDHex(),
		Email:     user.Email,
		UserType:  user.UserType,
		CreatedAt: isoTime(user.CreatedAt),
		Active:    user.Active,
	}
	switch user.UserType {
	case storage.Employee:
		resp.FullName = &user.FullName
	case storage.Employer:
		resp.CompanyName = &user.CompanyName
	default:
		writeError(w, r, auth.ErrInvalidUserType)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type uploadHistoryItem struct {
	ID         string         `json:"_id"`
	CVFilename string         `json:"cv_filename"`
	JDText     string         `json:"jd_text"`
	Result     ai.MatchResult `json:"analysis_result"`
	CreatedAt  string         `json:"created_at"`
}

type batchHistoryItem struct {
	BatchID        string `json:"employer_id"`
	JDText         string `json:"jd_text"`
	CandidateCount int    `json:"candidate_count"`
	CreatedAt      string `json:"created_at"`
}

type historyResponse struct {
	UserID   string           `json:"user_id"`
	UserType storage.UserType `json:"user_type"`
	History  any              `json:"history"`
}

func (s *server) profileHistory(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	resp := historyResponse{UserID: user.IDHex(), UserType: user.UserType}

	switch user.UserType {
	case storage.Employee:
		records, err := s.history.RecentUploads(r.Context(), user.IDHex(), historyLimit)
		if err != nil {
			writeError(w, r, apperr.Upstream("Error retrieving history", err))
			return
		}
		items := make([]uploadHistoryItem, 0, len(records))
		for _, rec := range records {
			items = append(items, uploadHistoryItem{
				ID:         rec.ID.Hex(),
				CVFilename: rec.CVFilename,
				JDText:     utils.Preview(rec.JDText, historyPreviewLen, "..."),
				Result:     rec.Result,
				CreatedAt:  isoTime(rec.CreatedAt),
			})
		}
		resp.History = items
	case storage.Employer:
		batches, err := s.history.RecentBatches(r.Context(), user.IDHex(), historyLimit)
		if err != nil {
			writeError(w, r, apperr.Upstream("Error retrieving history", err))
			return
		}
		items := make([]batchHistoryItem, 0, len(batches))
		for _, b := range batches {
			items = append(items, batchHistoryItem{
				BatchID:        b.BatchID,
				JDText:         utils.Preview(b.JDText, historyPreviewLen, "..."),
				CandidateCount: b.Count,
				CreatedAt:      isoTime(b.CreatedAt),
			})
		}
		resp.History = items
	default:
		writeError(w, r, auth.ErrInvalidUserType)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
