package handlers

import (
	"context"
	"fmt"

	"github.com/aretw0/sasya/pkg/domain"
)

// Classification identifies the disease in the session's photo. Each distinct image is
// sent to the classifier at most once per session; repeats are served from the session.
type Classification struct {
	deps Deps
}

func (h *Classification) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	img := s.Image
	var patch domain.SessionPatch
	if in.Image != nil && (img == nil || img.Digest != in.Image.Digest) {
		img = in.Image
		patch.Image = in.Image
	}
	if img == nil {
		return domain.Failure(domain.ErrorInvalidInput, "Please upload a photo of the affected leaves so I can analyse it."), nil
	}

	d, cached := s.Classified[img.Digest]
	if !cached {
		var failure *domain.HandlerResult
		d, failure = h.classify(ctx, s, img)
		if failure != nil {
			return *failure, nil
		}
		patch.Classified = map[string]domain.Diagnosis{img.Digest: d}
	}

	if s.Diagnosis != nil && *s.Diagnosis != d {
		patch.Corrections = append(patch.Corrections, domain.FieldDiagnosis)
	}
	patch.Diagnosis = &d

	name := Humanize(d.Label)
	var res domain.HandlerResult
	if d.Trusted(h.deps.Policy.ConfidenceFloor) {
		res = ok(fmt.Sprintf("This looks like %s (%.0f%% confidence).", name, d.Confidence*100))
	} else {
		res = ok(fmt.Sprintf("It might be %s, but I'm only %.0f%% sure. Does that look right? "+
			"If you know what it is, tell me, or send a clearer photo.", name, d.Confidence*100))
		res.RequiresUserInput = true
		res.FollowUps = []string{"confirm_diagnosis", "correct_diagnosis", "upload_image"}
	}
	res.Patch = patch
	res.Summary = fmt.Sprintf("classified %s at %.2f", d.Label, d.Confidence)
	if cached {
		res.Summary += " (cached)"
	}
	return res, nil
}

func (h *Classification) classify(ctx context.Context, s *domain.Session, img *domain.Image) (domain.Diagnosis, *domain.HandlerResult) {
	unavailable := func(err error) (domain.Diagnosis, *domain.HandlerResult) {
		h.deps.Logger.Warn("classifier unavailable", "session_id", s.ID, "error", err)
		res := domain.Failure(domain.ErrorDependencyUnavailable,
			"I couldn't analyse the photo right now. Please try again in a moment.")
		res.Degraded = true
		return domain.Diagnosis{}, &res
	}
	if h.deps.Classifier == nil {
		return unavailable(fmt.Errorf("%w: no classifier configured", domain.ErrDependencyUnavailable))
	}

	out, err := h.deps.Classifier.Classify(ctx, img.Data)
	if err != nil {
		return unavailable(err)
	}
	if out == nil || out.Label == "" || out.Confidence < 0 || out.Confidence > 1 {
		return unavailable(fmt.Errorf("%w: malformed classifier response", domain.ErrDependencyUnavailable))
	}

	ref := out.AttentionRef
	if len(out.Attention) > 0 && h.deps.Artifacts != nil {
		r, err := h.deps.Artifacts.Put(ctx, "attention/"+img.Digest, out.Attention)
		if err != nil {
			h.deps.Logger.Warn("attention artifact not stored", "session_id", s.ID, "error", err)
		} else {
			ref = r
		}
	}
	return domain.Diagnosis{
		Label:        out.Label,
		Confidence:   out.Confidence,
		AttentionRef: ref,
		ImageDigest:  img.Digest,
		ClassifiedAt: h.deps.Now().UTC(),
	}, nil
}
