// Package screening runs uploaded CVs against a job description: it validates
// the request, charges the caller's quota, extracts text, scores each pair and
// archives the outcome.
package screening

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/cv-matcher/internal/ai"
	"github.com/spigell/cv-matcher/internal/apperr"
	"github.com/spigell/cv-matcher/internal/extract"
	"github.com/spigell/cv-matcher/internal/logger"
	"github.com/spigell/cv-matcher/internal/ratelimit"
	"github.com/spigell/cv-matcher/internal/storage"
)

const (
	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeFailed   = "failed"
)

type Limiter interface {
	CheckAndConsume(ctx context.Context, identity string, tier ratelimit.Tier) (ratelimit.Decision, error)
	Window() time.Duration
}

type Archiver interface {
	Archive(ctx context.Context, coll storage.Collection, rec storage.UploadRecord) <-chan error
}

// ScoreObserver receives the outcome ("ok", "fallback" or "failed") and
// latency of every scoring call.
type ScoreObserver func(outcome string, took time.Duration)

type Deps struct {
	Extractor extract.Extractor
	Scorer    ai.Scorer
	Limiter   Limiter
	Archiver  Archiver
	Logger    *zap.Logger
	Observer  ScoreObserver
}

type Service struct {
	extractor extract.Extractor
	scorer    ai.Scorer
	limiter   Limiter
	archiver  Archiver
	logger    *zap.Logger
	observer  ScoreObserver

	now   func() time.Time
	newID func() string
}

func NewService(deps Deps) *Service {
	return &Service{
		extractor: deps.Extractor,
		scorer:    deps.Scorer,
		limiter:   deps.Limiter,
		archiver:  deps.Archiver,
		logger:    logger.Component(deps.Logger, "screening"),
		observer:  deps.Observer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Single scores one CV for an authenticated caller. Any extraction or scoring
// failure fails the request.
func (s *Service) Single(ctx context.Context, caller Caller, req SingleRequest) (SingleResult, error) {
	if err := req.validate(); err != nil {
		return SingleResult{}, err
	}

	decision, err := s.limiter.CheckAndConsume(ctx, caller.Identity, ratelimit.TierFree)
	if err != nil {
		return SingleResult{}, err
	}

	jdText, err := s.jobDescription(ctx, req.JDText, req.JD)
	if err != nil {
		return SingleResult{}, processingError(err)
	}

	cvText, err := s.extractor.Extract(ctx, req.CV.Filename, req.CV.Body)
	if err != nil {
		return SingleResult{}, processingError(err)
	}

	result, err := s.score(ctx, cvText, jdText)
	if err != nil {
		return SingleResult{}, processingError(err)
	}

	s.archiver.Archive(ctx, storage.EmployeeUploads, storage.UploadRecord{
		BatchID:    s.newID(),
		UserID:     caller.User.IDHex(),
		CVFilename: req.CV.Filename,
		JDFilename: filename(req.JD, req.JDText),
		JDText:     jdText,
		CVText:     cvText,
		Result:     result,
		CreatedAt:  s.now(),
	})

	return SingleResult{
		MatchResult: result,
		RateLimit:   s.rateLimit(decision),
		Decision:    decision,
	}, nil
}

// Batch scores every candidate against one job description. The quota is
// charged once. A candidate that cannot be extracted or scored is logged and
// left out of the ranking.
func (s *Service) Batch(ctx context.Context, caller Caller, req BatchRequest) (BatchResult, error) {
	if err := req.validate(); err != nil {
		return BatchResult{}, err
	}

	decision, err := s.limiter.CheckAndConsume(ctx, caller.Identity, ratelimit.TierFree)
	if err != nil {
		return BatchResult{}, err
	}

	jdText, err := s.jobDescription(ctx, req.JDText, req.JD)
	if err != nil {
		return BatchResult{}, processingError(err)
	}

	batchID := s.newID()
	log := s.logger.With(zap.String("batch_id", batchID))
	candidates := make([]Candidate, 0, len(req.Candidates))

	for _, cv := range req.Candidates {
		if err := ctx.Err(); err != nil {
			return BatchResult{}, err
		}

		result, cvText, err := s.candidate(ctx, cv, jdText)
		if err != nil {
			log.Warn("dropping candidate", zap.String("cv_filename", cv.Filename), zap.Error(err))
			continue
		}

		candidates = append(candidates, Candidate{Filename: cv.Filename, MatchResult: result})

		s.archiver.Archive(ctx, storage.EmployerUploads, storage.UploadRecord{
			BatchID:    batchID,
			UserID:     caller.User.IDHex(),
			CVFilename: cv.Filename,
			JDFilename: filename(req.JD, req.JDText),
			JDText:     jdText,
			CVText:     cvText,
			Result:     result,
			CreatedAt:  s.now(),
		})
	}

	Rank(candidates)

	log.Info("batch scored",
		zap.Int("candidates_initial", len(req.Candidates)),
		zap.Int("candidates_dropped", len(req.Candidates)-len(candidates)),
		zap.Int("candidates_left", len(candidates)),
	)

	limit := s.rateLimit(decision)
	return BatchResult{
		BatchID:         batchID,
		Count:           len(candidates),
		Candidates:      candidates,
		Remaining:       limit.Remaining,
		Max:             limit.Max,
		ResetAfterHours: limit.ResetAfterHours,
		Decision:        decision,
	}, nil
}

// Demo scores one CV against one JD document for an anonymous caller.
func (s *Service) Demo(ctx context.Context, caller Caller, req DemoRequest) (SingleResult, error) {
	if err := req.validate(); err != nil {
		return SingleResult{}, err
	}

	decision, err := s.limiter.CheckAndConsume(ctx, caller.Identity, ratelimit.TierDemo)
	if err != nil {
		return SingleResult{}, err
	}

	cvText, err := s.extractor.Extract(ctx, req.CV.Filename, req.CV.Body)
	if err != nil {
		return SingleResult{}, processingError(err)
	}

	jdText, err := s.extractor.Extract(ctx, req.JD.Filename, req.JD.Body)
	if err != nil {
		return SingleResult{}, processingError(err)
	}

	result, err := s.score(ctx, cvText, jdText)
	if err != nil {
		return SingleResult{}, processingError(err)
	}

	s.archiver.Archive(ctx, storage.DemoUploads, storage.UploadRecord{
		BatchID:    s.newID(),
		CVFilename: req.CV.Filename,
		JDFilename: req.JD.Filename,
		JDText:     jdText,
		CVText:     cvText,
		Result:     result,
		CreatedAt:  s.now(),
	})

	return SingleResult{
		MatchResult: result,
		RateLimit:   s.rateLimit(decision),
		Decision:    decision,
	}, nil
}

func (s *Service) candidate(ctx context.Context, cv Document, jdText string) (ai.MatchResult, string, error) {
	if !cv.present() {
		return ai.MatchResult{}, "", ErrNoCV
	}

	cvText, err := s.extractor.Extract(ctx, cv.Filename, cv.Body)
	if err != nil {
		return ai.MatchResult{}, "", err
	}

	result, err := s.score(ctx, cvText, jdText)
	if err != nil {
		return ai.MatchResult{}, "", err
	}

	return result, cvText, nil
}

// jobDescription prefers inline text over an uploaded document.
func (s *Service) jobDescription(ctx context.Context, text string, doc *Document) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	return s.extractor.Extract(ctx, doc.Filename, doc.Body)
}

func (s *Service) score(ctx context.Context, cvText, jdText string) (ai.MatchResult, error) {
	started := s.now()
	result, err := s.scorer.Score(ctx, cvText, jdText)

	outcome := outcomeOK
	switch {
	case err != nil:
		outcome = outcomeFailed
	case result.IsFallback():
		outcome = outcomeFallback
	}
	if s.observer != nil {
		s.observer(outcome, s.now().Sub(started))
	}

	if err != nil {
		return ai.MatchResult{}, err
	}
	if result.MissingSkills == nil {
		result.MissingSkills = []string{}
	}
	return result, nil
}

func (s *Service) rateLimit(d ratelimit.Decision) RateLimit {
	return RateLimit{
		Remaining:       d.Remaining,
		Max:             d.Limit,
		ResetAfterHours: int(s.limiter.Window() / time.Hour),
	}
}

func filename(doc *Document, text string) string {
	if strings.TrimSpace(text) != "" || doc == nil {
		return ""
	}
	return doc.Filename
}

// processingError keeps client mistakes as they are and reports everything
// else as an upstream failure.
func processingError(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindInput, apperr.KindRateLimited:
		return err
	}
	return apperr.Upstream(fmt.Sprintf("Error processing request: %s", err), err)
}
