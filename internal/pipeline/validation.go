package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/quill/internal/cache"
	"github.com/phrazzld/quill/internal/generation"
)

// validateRequest checks required fields and that the context can be keyed.
func (p *Pipeline) validateRequest(req *generation.Request) *generation.Error {
	if req == nil {
		return generation.Errorf(generation.KindInvalidRequest, "request is required")
	}
	if err := p.validate.Struct(req); err != nil {
		return generation.NewError(generation.KindInvalidRequest, describeValidation(err), nil)
	}
	if _, err := cache.KeyFor(req.ContentType, req.Context); err != nil {
		return generation.NewError(generation.KindInvalidRequest, "request context is malformed", err)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// validateOutput runs the generator's validator, then the shared one, then
// falls back to a permissive default. It never fails the request.
func (p *Pipeline) validateOutput(
	ctx context.Context,
	log *slog.Logger,
	gen generation.Generator,
	content *generation.GeneratedContent,
) generation.ValidationResult {
	if gen != nil {
		if res := runValidator(ctx, log, "generator", gen.Validate, content); res != nil {
			return *res
		}
	}
	if p.validator != nil {
		if res := runValidator(ctx, log, "shared", p.validator.Validate, content); res != nil {
			return *res
		}
	}
	return generation.ValidationResult{IsValid: true, Score: baselineScore}
}

func runValidator(
	ctx context.Context,
	log *slog.Logger,
	source string,
	fn func(context.Context, *generation.GeneratedContent) (*generation.ValidationResult, error),
	content *generation.GeneratedContent,
) (res *generation.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("validator panicked", "validator", source, "panic", r)
			res = nil
		}
	}()

	res, err := fn(ctx, content)
	if err != nil {
		log.Warn("validator failed", "validator", source, "error", err)
		return nil
	}
	if res != nil && !res.IsValid {
		log.Info("content failed validation", "validator", source, "issues", res.Issues)
	}
	return res
}
