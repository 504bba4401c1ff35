// Package validation runs the ordered per-file checks over staged
// uploads, consulting the quota tracker and directory manager and
// accumulating errors on the staged entry.
package validation

import (
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/domain"
	internal_errors "github.com/driftchan/driftchan/internal/errors"
	"github.com/driftchan/driftchan/internal/imaging"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/metrics"
	"github.com/driftchan/driftchan/internal/quota"
)

// defaultPostFileCap bounds the per-post file count when the operator
// left the limit unset or above this threshold.
const defaultPostFileCap = 50

// Rotator is the slice of the directory manager the pipeline needs.
type Rotator interface {
	Policy() domain.RotationPolicy
	RotateBySpace() (domain.UploadDirectory, error)
}

// Relocator moves a staged temp file after a mid-batch rotation.
type Relocator interface {
	Relocate(staged *domain.StagedUpload, dir domain.UploadDirectory) error
}

type Pipeline struct {
	cfg       config.Uploads
	tracker   *quota.Tracker
	rotator   Rotator
	relocator Relocator
	images    imaging.Service
	sanitizer *bluemonday.Policy
}

func New(cfg config.Uploads, tracker *quota.Tracker, rotator Rotator, relocator Relocator, images imaging.Service) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		tracker:   tracker,
		rotator:   rotator,
		relocator: relocator,
		images:    images,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Validate runs every check over one staged file. Errors land in
// staged.Errors; the returned error is reserved for store failures that
// abort the batch. Contract: if staged ends up with any error, every
// quota reservation made here has been rolled back, and the temp file
// stays on disk.
func (p *Pipeline) Validate(staged *domain.StagedUpload, messageId domain.MessageId) error {
	staged.DeclaredName = p.sanitizeName(staged.DeclaredName)

	defer func() {
		result := "ok"
		if staged.Failed() {
			if ue, ok := staged.Errors[0].(*internal_errors.UploadError); ok {
				result = ue.Kind.String()
			} else {
				result = "infrastructure"
			}
		}
		metrics.UploadsValidated.WithLabelValues(result).Inc()
	}()

	// 1. Emptiness. A zero-byte file fails fast and touches no counter.
	if staged.Size == 0 {
		staged.Errors = append(staged.Errors, internal_errors.ErrZeroBytes)
		return nil
	}

	// 2. Image security.
	if !p.checkImage(staged) {
		return nil
	}

	// 3-6. Space checks, reserve-first.
	reserved, err := p.checkSpace(staged, messageId)
	if err != nil {
		return err
	}

	// 7. Extension allow-list runs regardless of space failures so the
	// user sees every relevant error at once.
	p.checkExtension(staged)

	if staged.Failed() && reserved {
		p.tracker.Rollback(staged.Size)
	}
	return nil
}

// checkImage runs the security scan, optionally accepting a successful
// re-encode. Returns false when validation must stop for this file.
func (p *Pipeline) checkImage(staged *domain.StagedUpload) bool {
	info, err := p.images.Analyze(staged.TempPath)
	if err != nil {
		logger.Log.Warn("image analysis failed", "path", staged.TempPath, "error", err)
		return true // treat as non-image, later checks still apply
	}
	if !info.IsImage {
		return true
	}

	staged.Width = info.Width
	staged.Height = info.Height

	ok, err := p.images.SecurityCheck(staged.TempPath, p.cfg.ParanoidChecks)
	if err != nil {
		logger.Log.Warn("image security check failed to run", "path", staged.TempPath, "error", err)
		ok = false
	}
	if ok {
		if staged.DeclaredMime == "" {
			staged.DeclaredMime = info.Mime
		}
		return true
	}

	if p.cfg.ReencodeOnFail {
		if reencoded, err := p.images.Reencode(staged.TempPath); err == nil && reencoded {
			// The file mutated on disk: size and mime may differ now.
			if post, err := p.images.Analyze(staged.TempPath); err == nil && post.IsImage {
				staged.DeclaredMime = post.Mime
				staged.Width = post.Width
				staged.Height = post.Height
			}
			if size, err := statSize(staged.TempPath); err == nil {
				staged.Size = size
			}
			return true
		}
	}

	staged.Errors = append(staged.Errors, internal_errors.ErrUnsafeFile)
	return false
}

// checkSpace covers steps 3 through 6. It reports whether a
// reservation is still standing when it returns.
func (p *Pipeline) checkSpace(staged *domain.StagedUpload, messageId domain.MessageId) (bool, error) {
	limits := quota.Limits{
		MaxDirBytes:  p.cfg.MaxDirBytes,
		MaxDirFiles:  p.cfg.MaxDirFiles,
		WarnDirBytes: p.cfg.WarnDirBytes,
	}

	if err := p.tracker.PrimeFromStore(staged.FolderId, messageId, p.cfg.CountThumbsInQuota); err != nil {
		staged.Errors = append(staged.Errors, internal_errors.ErrNoDirectory)
		return false, err
	}

	// Reserve before comparing: the post-total and per-file checks
	// below are defined over totals that include this file.
	p.tracker.TryReserve(staged.Size)

	if p.tracker.OverFull(limits) {
		if !p.rotateInto(staged) {
			staged.Errors = append(staged.Errors, internal_errors.ErrDirectoryFull)
			return true, nil // rolled back by the caller
		}
	}

	p.tracker.NearFull(limits)

	if p.cfg.MaxFileBytes > 0 && staged.Size > p.cfg.MaxFileBytes {
		staged.Errors = append(staged.Errors, internal_errors.ErrFileTooLarge)
	}
	if p.cfg.MaxPostBytes > 0 && p.tracker.PostBytesUsed > p.cfg.MaxPostBytes {
		staged.Errors = append(staged.Errors, internal_errors.ErrPostTooLarge)
	}
	if p.tracker.PostFileCount > p.postFileCap() {
		staged.Errors = append(staged.Errors, internal_errors.ErrTooManyFiles)
	}

	return true, nil
}

// rotateInto attempts a manual-counter rotation and moves the staged
// file into the fresh directory, re-deriving the reservation against
// it. Returns false when rotation is disallowed or fails.
//
// Only the overflowing file is relocated. Files staged earlier in the
// same batch keep their FolderId and still land in the old directory,
// while later files reserve against the rotated one. The old
// directory overshoots its limit by at most one batch; the next batch
// primes from the store and sees the true totals.
func (p *Pipeline) rotateInto(staged *domain.StagedUpload) bool {
	if p.rotator.Policy() != domain.RotateManualCounter {
		return false
	}

	dir, err := p.rotator.RotateBySpace()
	if err != nil {
		logger.Log.Error("directory rotation failed", "error", err)
		return false
	}
	if err := p.relocator.Relocate(staged, dir); err != nil {
		logger.Log.Error("failed to move staged file into rotated directory", "error", err)
		return false
	}

	// Move the reservation: undo it, point the counters at the new
	// folder, reserve again. Post counters net out unchanged.
	p.tracker.Rollback(staged.Size)
	if err := p.tracker.Reprime(dir.Id, p.cfg.CountThumbsInQuota); err != nil {
		logger.Log.Error("failed to reprime quota after rotation", "error", err)
	}
	p.tracker.TryReserve(staged.Size)
	return true
}

func (p *Pipeline) checkExtension(staged *domain.StagedUpload) {
	allowed := strings.TrimSpace(p.cfg.AllowedExtens)
	if allowed == "" {
		return
	}

	ext := domain.NormalizeExtension(staged.DeclaredName)
	for _, a := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(a), ext) {
			return
		}
	}
	staged.Errors = append(staged.Errors, internal_errors.ErrBadExtension)
}

func (p *Pipeline) postFileCap() int {
	if p.cfg.MaxPostFiles <= 0 || p.cfg.MaxPostFiles > defaultPostFileCap {
		return defaultPostFileCap
	}
	return p.cfg.MaxPostFiles
}

// sanitizeName strips markup and path components from an untrusted
// declared filename.
func (p *Pipeline) sanitizeName(name string) string {
	name = p.sanitizer.Sanitize(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "attachment"
	}
	return name
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
