package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"travel-missions/apperr"
	"travel-missions/telemetry"
)

var validate = validator.New()

// CompletionPayload is what a client submits to complete a mission: either a
// public image URL or the key of an uploaded object, plus an optional
// client-side completion time.
type CompletionPayload struct {
	ImageURL    string     `json:"image_url" validate:"omitempty,url"`
	ImageKey    string     `json:"image_key" validate:"omitempty,max=512"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ImageChecker enforces the image precondition shared by individual and group
// completions.
type ImageChecker struct {
	Resolver  ImageResolver
	Validator ImageValidator
	Log       *logrus.Entry
}

// Check resolves the payload image and runs the validator against keywords.
// It returns the image URL to store.
func (c *ImageChecker) Check(ctx context.Context, p CompletionPayload, keywords []string) (string, error) {
	if err := validate.Struct(p); err != nil {
		return "", apperr.Wrap(apperr.InvalidArgument, "invalid completion payload", err)
	}

	imageURL := strings.TrimSpace(p.ImageURL)
	if imageURL == "" {
		if strings.TrimSpace(p.ImageKey) == "" {
			return "", apperr.New(apperr.InvalidArgument, "image_url or image_key is required")
		}
		if c.Resolver == nil {
			return "", apperr.New(apperr.Unsupported, "image keys are not supported: object storage is not configured")
		}
		resolved, err := c.Resolver.ResolveImageURL(ctx, p.ImageKey)
		if err != nil {
			return "", err
		}
		imageURL = resolved
	}

	ctx, span := telemetry.Start(ctx, "images.validate")
	ok, err := c.Validator.Validate(ctx, imageURL, keywords)
	telemetry.End(span, err)
	if err != nil {
		c.Log.WithError(err).WithField("image_url", imageURL).Warn("image validation call failed")
		return "", apperr.Wrap(apperr.ValidationFailed, "image could not be validated", err)
	}
	if !ok {
		return "", apperr.New(apperr.ValidationFailed, "image does not show the mission target")
	}
	return imageURL, nil
}

// completionTime picks the client-supplied time when present.
func completionTime(p CompletionPayload, now time.Time) time.Time {
	if p.CompletedAt != nil && !p.CompletedAt.IsZero() && !p.CompletedAt.After(now) {
		return p.CompletedAt.UTC()
	}
	return now
}
